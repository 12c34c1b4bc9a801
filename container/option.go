package container

import "fmt"

// Option is a value that may be unset. The importer uses it for durations
// and thread times, where zero is a valid value distinct from absent.
type Option[T any] struct {
	v   T
	set bool
}

func (opt Option[T]) String() string {
	if !opt.set {
		return "None"
	}
	return fmt.Sprintf("%v", opt.v)
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func Some[T any](v T) Option[T] {
	return Option[T]{v: v, set: true}
}

func (opt Option[T]) Get() (T, bool) {
	return opt.v, opt.set
}

func (opt Option[T]) GetOr(alt T) T {
	if opt.set {
		return opt.v
	}
	return alt
}

func (opt Option[T]) Set() bool {
	return opt.set
}

func (opt Option[T]) MustGet() T {
	if !opt.set {
		panic("called MustGet on unset Option")
	}
	return opt.v
}
