package tools

// SplitChunks cuts s into pieces of at most size bytes where consecutive
// pieces overlap by about overlap bytes. Cuts never split a UTF-8 sequence.
// size <= 0 returns s whole.
func SplitChunks(s string, size, overlap int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}
	if overlap < 0 {
		overlap = 0
	}
	var out []string
	for start := 0; start < len(s); {
		end := start + size
		if end > len(s) {
			end = len(s)
		}
		for end < len(s) && end > start+1 && !utf8Start(s[end]) {
			end--
		}
		out = append(out, s[start:end])
		if end == len(s) {
			break
		}
		next := end - overlap
		for next > start && next < end && !utf8Start(s[next]) {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}
