package attribution

// Decoder turns token ids into text.
type Decoder interface {
	Decode(ids []int) string
}

// ContextWindow is a document window clipped around its needle.
type ContextWindow struct {
	DisplayLength int
	NeedleOffset  int
	Text          string
}

// TrimContext clips tokenIDs to at most maxRadius tokens on each side of the
// needle that starts at needleOffset and spans spanLength tokens. tokenIDs is
// not modified.
func TrimContext(dec Decoder, tokenIDs []int, needleOffset, spanLength, maxRadius int) ContextWindow {
	ids := tokenIDs
	if needleOffset > maxRadius {
		ids = ids[min(needleOffset-maxRadius, len(ids)):]
		needleOffset = maxRadius
	}

	// A needle that runs past the window leaves no tail to trim.
	tail := len(ids) - needleOffset - spanLength
	if tail > maxRadius {
		ids = ids[:len(ids)-(tail-maxRadius)]
	}

	return ContextWindow{
		DisplayLength: len(ids),
		NeedleOffset:  needleOffset,
		Text:          dec.Decode(ids),
	}
}
