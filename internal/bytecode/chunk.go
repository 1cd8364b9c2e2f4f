package bytecode

// DebugInfo stores source location for a single bytecode instruction. The
// compiler that produces a Chunk fills it in; the VM only ever reads it
// back for diagnostics.
type DebugInfo struct {
	Line     int
	Column   int
	File     string
	Function string
}

// Chunk is the immutable unit of compiled code a CallFrame executes: a flat
// instruction stream plus the constant pool it indexes into. Constants may
// be numbers, strings, or *vm.Function values placed there by the compiler;
// the VM trusts the pool is well-formed.
type Chunk struct {
	Code      []byte
	Constants []interface{}
	Debug     []DebugInfo // one entry per byte in Code

	last DebugInfo // debug info of the most recently written opcode
}

func NewChunk() *Chunk {
	return &Chunk{
		Code:      []byte{},
		Constants: []interface{}{},
		Debug:     []DebugInfo{},
	}
}

// WriteOp appends an opcode with no debug info of its own; it inherits the
// DebugInfo last recorded by WriteOpWithDebug or WriteByteWithDebug, so a
// diagnostic that lands mid-instruction (e.g. on an
// operand byte) still resolves to the owning instruction's source location
// rather than a blank one.
func (c *Chunk) WriteOp(op OpCode) {
	c.Code = append(c.Code, byte(op))
	c.Debug = append(c.Debug, c.last)
}

// WriteOpWithDebug appends an opcode and records debug as the chunk's
// current instruction; subsequent WriteByte/WriteShort operand bytes and
// any bare WriteOp inherit it until the next WriteOpWithDebug or
// WriteByteWithDebug.
func (c *Chunk) WriteOpWithDebug(op OpCode, debug DebugInfo) {
	c.last = debug
	c.Code = append(c.Code, byte(op))
	c.Debug = append(c.Debug, debug)
}

// WriteByte appends a raw operand byte, inheriting its owning instruction's
// debug info.
func (c *Chunk) WriteByte(b byte) {
	c.Code = append(c.Code, b)
	c.Debug = append(c.Debug, c.last)
}

// WriteByteWithDebug appends a raw operand byte and updates the chunk's
// current instruction, for the rare case an operand carries its own
// location distinct from the opcode that preceded it.
func (c *Chunk) WriteByteWithDebug(b byte, debug DebugInfo) {
	c.last = debug
	c.Code = append(c.Code, b)
	c.Debug = append(c.Debug, debug)
}

// WriteShort appends a two-byte, big-endian operand. Used for jump offsets,
// which routinely outgrow a single byte.
func (c *Chunk) WriteShort(v uint16) {
	c.WriteByte(byte(v >> 8))
	c.WriteByte(byte(v))
}

// AddConstant interns val into the constant pool and returns its index.
func (c *Chunk) AddConstant(val interface{}) int {
	c.Constants = append(c.Constants, val)
	return len(c.Constants) - 1
}

func (c *Chunk) GetDebugInfo(ip int) DebugInfo {
	if ip >= 0 && ip < len(c.Debug) {
		return c.Debug[ip]
	}
	return DebugInfo{}
}

// ReadShort decodes the two-byte, big-endian operand at ip.
func (c *Chunk) ReadShort(ip int) uint16 {
	return uint16(c.Code[ip])<<8 | uint16(c.Code[ip+1])
}
