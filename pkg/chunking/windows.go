package chunking

// window is a coarse slice of content, bounding the context given to the
// boundary-proposal LLM call. Windows exist only to bound context; the
// chunks ultimately emitted are computed from the cursor, not from window
// boundaries.
type window struct {
	Start int
	End   int
	Text  string
}

// coarseWindows partitions content into overlapping windows of length size
// with stride size-overlap, per the chunking algorithm's step 1.
func coarseWindows(content string, size, overlap int) []window {
	runes := []rune(content)
	total := len(runes)
	if total == 0 {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	stride := size - overlap

	if total <= size {
		return []window{{Start: 0, End: total, Text: content}}
	}

	var windows []window
	for start := 0; start < total; start += stride {
		end := start + size
		if end > total {
			end = total
		}
		windows = append(windows, window{Start: start, End: end, Text: string(runes[start:end])})
		if end == total {
			break
		}
	}
	return windows
}
