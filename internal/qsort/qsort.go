// Copyright (C) 2026 the seqstack authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package qsort

// Sorts an array of float32 in ascending order with quicksort.
// Array must not contain IEEE NaN
func Sort(a []float32) {
	if len(a) > 1 {
		index := partition(a)
		Sort(a[:index+1])
		Sort(a[index+1:])
	}
}

// Partitions an array of float32 around the middle pivot element and returns
// the pivot index. Values less than the pivot end up left of it, values
// greater end up right. Array must not contain IEEE NaN
func partition(a []float32) int {
	left, right := 0, len(a)-1
	mid := (left + right) >> 1
	pivot := a[mid]
	l := left - 1
	r := right + 1
	for {
		for {
			l++
			if a[l] >= pivot {
				break
			}
		}
		for {
			r--
			if a[r] <= pivot {
				break
			}
		}
		if l >= r {
			return r
		}
		a[l], a[r] = a[r], a[l]
	}
}

// Selects the median of an array of float32. Partially reorders the array.
// For even lengths, returns the mean of the two middle elements.
// Array must not contain IEEE NaN
func Median(a []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	upper := Select(a, (len(a)>>1)+1)
	if len(a)&1 != 0 {
		return upper
	}
	lower := Select(a, len(a)>>1)
	return 0.5 * (lower + upper)
}

// Selects the kth lowest element (1-based) from an array of float32 with
// quickselect. Partially reorders the array: afterwards, elements before the
// result are <= it, elements after are >= it. Array must not contain IEEE NaN
func Select(a []float32, k int) float32 {
	left, right := 0, len(a)-1
	for left < right {
		// partition
		mid := (left + right) >> 1
		pivot := a[mid]
		l, r := left-1, right+1
		for {
			for {
				l++
				if a[l] >= pivot {
					break
				}
			}
			for {
				r--
				if a[r] <= pivot {
					break
				}
			}
			if l >= r {
				break // index in r
			}
			a[l], a[r] = a[r], a[l]
		}
		index := r

		offset := index - left + 1
		if k <= offset {
			right = index
		} else {
			left = index + 1
			k = k - offset
		}
	}
	return a[left]
}
