package trampoline

// Kind says how a backend has to place an argument.
type Kind uint8

const (
	// KindWord is passed by value in its register.
	KindWord Kind = iota
	// KindIn is a buffer the kernel only reads.
	KindIn
	// KindOut is a buffer the kernel may write; backends copy it back after the call.
	KindOut
)

// Arg is one syscall argument: a machine word, or a buffer whose address becomes the
// word once the backend has made it visible to the kernel.
type Arg struct {
	kind Kind
	word uintptr
	buf  []byte
}

// Word passes v unchanged.
func Word(v uintptr) Arg {
	return Arg{kind: KindWord, word: v}
}

// Int passes a signed value, sign-extended to a machine word.
func Int(v int) Arg {
	return Arg{kind: KindWord, word: uintptr(v)}
}

// In passes the address of p, which the kernel reads.
func In(p []byte) Arg {
	return Arg{kind: KindIn, buf: p}
}

// Out passes the address of p, which the kernel may fill.
func Out(p []byte) Arg {
	return Arg{kind: KindOut, buf: p}
}

// String passes s as a NUL-terminated byte string.
func String(s string) Arg {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return In(b)
}

// Kind returns how the argument is placed.
func (a Arg) Kind() Kind {
	return a.kind
}

// Word returns the value of a KindWord argument.
func (a Arg) Word() uintptr {
	return a.word
}

// Bytes returns the buffer of a KindIn or KindOut argument.
func (a Arg) Bytes() []byte {
	return a.buf
}

// Words flattens args for logging. Buffers show up as their length since their
// address depends on the backend.
func Words(args []Arg) []uint64 {
	out := make([]uint64, len(args))
	for i, a := range args {
		if a.kind == KindWord {
			out[i] = uint64(a.word)
		} else {
			out[i] = uint64(len(a.buf))
		}
	}
	return out
}
