package main

type node struct {
	next *node
	val  int
}

func push(head *node, v int) *node {
	return &node{next: head, val: v}
}

func sum(head *node) int {
	s := 0
	for n := head; n != nil; n = n.next {
		s += n.val
	}
	return s
}

func reverse(head *node) *node {
	var prev *node
	for head != nil {
		next := head.next
		head.next = prev
		prev, head = head, next
	}
	return prev
}

func main() {
	var l *node
	for i := 0; i < 10; i++ {
		l = push(l, i)
	}
	println(sum(reverse(l)))
}
