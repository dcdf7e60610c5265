package rag

import (
	"strings"
	"unicode/utf8"

	types "nodeforge/internal/domain/chatflow/model"
)

// DefaultSeparators 由粗到细的默认分隔符，空串表示按字符切分
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveSplitter 递归字符分块器：优先按段落切分，块仍过大时退到更细的分隔符
type RecursiveSplitter struct {
	chunkSize  int // 每块最大字符数
	overlap    int // 块间重叠字符数
	separators []string
}

// NewRecursiveSplitter 创建分块器
func NewRecursiveSplitter(chunkSize, overlap int, separators ...string) *RecursiveSplitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &RecursiveSplitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: separators,
	}
}

// SplitText 切分单段文本
func (s *RecursiveSplitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

// SplitDocuments 切分文档，每个分块继承原文档的 metadata
func (s *RecursiveSplitter) SplitDocuments(docs []types.Document) []types.Document {
	var out []types.Document
	for _, doc := range docs {
		for _, chunk := range s.SplitText(doc.PageContent) {
			d := doc.Clone()
			d.PageContent = chunk
			out = append(out, d)
		}
	}
	return out
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
	} else {
		pieces = strings.Split(text, separator)
	}

	var final, good []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if runeLen(p) < s.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good, separator)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, p)
		} else {
			final = append(final, s.split(p, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, separator)...)
	}
	return final
}

// merge 把小片段拼成不超过 chunkSize 的块，块尾保留 overlap 个字符给下一块
func (s *RecursiveSplitter) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)
	var (
		chunks  []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		l := runeLen(p)
		if total+l+joinLen() > s.chunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.overlap || (total+l+joinLen() > s.chunkSize && total > 0) {
				dropped := runeLen(current[0])
				if len(current) > 1 {
					dropped += sepLen
				}
				total -= dropped
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
		if len(current) > 1 {
			total += sepLen
		}
	}
	if chunk := strings.TrimSpace(strings.Join(current, separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
