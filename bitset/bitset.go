package bitset

// Sparse is a bit store addressed by signed word indexes, keeping only words
// that contain set bits. It backs indexes that are wide but mostly empty.
type Sparse struct {
	words map[int32]uint64
}

func NewSparse() *Sparse {
	return &Sparse{words: make(map[int32]uint64)}
}

// Word returns the 64-bit word at the given word index; absent words are zero.
func (s *Sparse) Word(w int32) uint64 {
	return s.words[w]
}

func (s *Sparse) IsSet(w int32, bit uint) bool {
	return s.words[w]&(uint64(1)<<bit) != 0
}

func (s *Sparse) Set(w int32, bit uint) {
	s.words[w] |= uint64(1) << bit
}

func (s *Sparse) Unset(w int32, bit uint) {
	word := s.words[w] &^ (uint64(1) << bit)
	if word == 0 {
		delete(s.words, w)
	} else {
		s.words[w] = word
	}
}

// Flip toggles a bit and reports whether it is set afterwards.
func (s *Sparse) Flip(w int32, bit uint) bool {
	word := s.words[w] ^ (uint64(1) << bit)
	if word == 0 {
		delete(s.words, w)
	} else {
		s.words[w] = word
	}
	return word&(uint64(1)<<bit) != 0
}

// Clear removes every bit.
func (s *Sparse) Clear() {
	s.words = make(map[int32]uint64)
}

// Clone returns an independent copy.
func (s *Sparse) Clone() *Sparse {
	words := make(map[int32]uint64, len(s.words))
	for w, word := range s.words {
		words[w] = word
	}
	return &Sparse{words: words}
}

// PopCount returns the number of set bits across all words.
func (s *Sparse) PopCount() int {
	n := 0
	for _, word := range s.words {
		for ; word != 0; word &= word - 1 {
			n++
		}
	}
	return n
}
