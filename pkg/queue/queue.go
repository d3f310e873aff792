package queue

// Queue buffers published items until a consumer drains them.
type Queue interface {
	Enqueue(item interface{})
	Size() int
	ReadAllMessages() []interface{}
}
