package data

// Block is a contiguous run of unpacked time samples. Values are stored
// sample-major: the value for time step t, polarization p, channel c lives at
// index (t*NPol+p)*NChan + c. Exactly one of Ints or Floats is non-nil,
// matching Header.Float. A block is owned by one pipeline stage at a time
// and is never shared.
type Block struct {
	NSamp int
	NChan int
	NPol  int

	Ints   []uint32
	Floats []float32
}

// NewIntBlock allocates an integer block for n time samples.
func NewIntBlock(n, nchan, npol int) *Block {
	return &Block{
		NSamp: n, NChan: nchan, NPol: npol,
		Ints: make([]uint32, n*nchan*npol),
	}
}

// NewFloatBlock allocates a floating point block for n time samples.
func NewFloatBlock(n, nchan, npol int) *Block {
	return &Block{
		NSamp: n, NChan: nchan, NPol: npol,
		Floats: make([]float32, n*nchan*npol),
	}
}

// ValuesPerSample returns the number of values in one time step.
func (b *Block) ValuesPerSample() int { return b.NChan * b.NPol }

// Len returns the total number of values held by the block.
func (b *Block) Len() int { return b.NSamp * b.NChan * b.NPol }

// IsFloat reports whether the block carries floating point samples.
func (b *Block) IsFloat() bool { return b.Floats != nil }

// Slice returns a block view of time samples [from, to). The returned block
// shares backing storage with b; the caller must hand off ownership.
func (b *Block) Slice(from, to int) *Block {
	vps := b.ValuesPerSample()
	out := &Block{NSamp: to - from, NChan: b.NChan, NPol: b.NPol}
	if b.Ints != nil {
		out.Ints = b.Ints[from*vps : to*vps]
	}
	if b.Floats != nil {
		out.Floats = b.Floats[from*vps : to*vps]
	}
	return out
}

// Append copies all samples of src onto the end of b. Both blocks must share
// the same channel and polarization geometry and value kind.
func (b *Block) Append(src *Block) {
	if src == nil || src.NSamp == 0 {
		return
	}
	b.NSamp += src.NSamp
	if src.Ints != nil {
		b.Ints = append(b.Ints, src.Ints...)
	}
	if src.Floats != nil {
		b.Floats = append(b.Floats, src.Floats...)
	}
}
