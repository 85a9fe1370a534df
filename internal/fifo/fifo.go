package fifo

// Circular Fifo with a capacity fixed at construction.
// One slot is kept free to tell a full buffer from an empty one.
// Not safe for concurrent use, callers hold their own lock.
type Fifo[T any] struct {
	buffer   []T
	writePos int
	readPos  int
}

func NewFifo[T any](size uint16) *Fifo[T] {
	return &Fifo[T]{
		buffer:   make([]T, int(size)+1),
		writePos: 0,
		readPos:  0,
	}
}

func (f *Fifo[T]) Reset() {
	f.readPos = 0
	f.writePos = 0
}

func (f *Fifo[T]) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

func (f *Fifo[T]) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write elements to fifo and return number of elements written
// Elements that do not fit are not written
func (f *Fifo[T]) Write(elements ...T) int {
	writeCounter := 0
	for _, element := range elements {
		writePosNext := f.writePos + 1
		if writePosNext == len(f.buffer) {
			writePosNext = 0
		}
		if writePosNext == f.readPos {
			break
		}
		f.buffer[f.writePos] = element
		f.writePos = writePosNext
		writeCounter++
	}
	return writeCounter
}

// Read elements from fifo into buffer and return number of elements read
func (f *Fifo[T]) Read(buffer []T) int {
	readCounter := 0
	for index := range buffer {
		if f.readPos == f.writePos {
			break
		}
		buffer[index] = f.buffer[f.readPos]
		var zero T
		f.buffer[f.readPos] = zero
		readCounter++
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
	return readCounter
}

// Pop a single element, ok is false when fifo is empty
func (f *Fifo[T]) Pop() (element T, ok bool) {
	var buffer [1]T
	if f.Read(buffer[:]) == 0 {
		return element, false
	}
	return buffer[0], true
}
