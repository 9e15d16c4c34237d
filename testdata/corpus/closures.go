package main

import "sync"

type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) inc(k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[k]++
}

func apply[T any](xs []T, f func(*T)) {
	for i := range xs {
		f(&xs[i])
	}
}

func main() {
	c := &counter{n: map[string]int{}}
	var wg sync.WaitGroup
	ch := make(chan int, 1)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.inc("k")
		}()
	}
	wg.Wait()
	select {
	case ch <- 1:
	default:
	}
	xs := []int{1, 2, 3}
	apply(xs, func(p *int) { *p *= 2 })
	v, ok := <-ch
	println(v, ok, c.n["k"], xs[0])
}
