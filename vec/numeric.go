package vec

import "golang.org/x/exp/constraints"

// Sum adds every element of a numeric Vec.
func Sum[T constraints.Integer | constraints.Float](v *Vec[T]) T {
	var total T
	for _, e := range v.buf {
		total += e
	}
	return total
}

// Max returns the largest element of an ordered Vec. Panics if the Vec is
// empty, matching Pop's empty-Vec contract.
func Max[T constraints.Ordered](v *Vec[T]) T {
	if len(v.buf) == 0 {
		panic("vec: max on empty vec")
	}
	max := v.buf[0]
	for _, e := range v.buf[1:] {
		if e > max {
			max = e
		}
	}
	return max
}

// Min returns the smallest element of an ordered Vec. Panics if the Vec is
// empty, matching Pop's empty-Vec contract.
func Min[T constraints.Ordered](v *Vec[T]) T {
	if len(v.buf) == 0 {
		panic("vec: min on empty vec")
	}
	min := v.buf[0]
	for _, e := range v.buf[1:] {
		if e < min {
			min = e
		}
	}
	return min
}
