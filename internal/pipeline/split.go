package pipeline

// SplitText 按字符（rune）切分文本，相邻分块重叠 chunkOverlap 个字符。
// chunkOverlap 不小于 chunkSize 时视为不重叠。
func SplitText(text string, chunkSize, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - chunkOverlap
	}
	return chunks
}
