package packet

import (
	"bytes"
	"sync"
)

// 大于该容量的缓冲区不放回池中
const maxPooledBuffer = 64 << 10

// bufPool 打包时使用的临时缓冲区, 整个报文在缓冲区中拼好后一次写出
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func GetBuffer() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	bufPool.Put(buf)
}
