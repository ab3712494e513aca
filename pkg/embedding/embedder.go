// Package embedding 提供将文本转换为定长向量的能力。
package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// DefaultDimension 是未配置维度时使用的向量长度。
const DefaultDimension = 256

// Embedder 定义了文本向量化的接口。
type Embedder interface {
	// Embed 将单条文本转换为向量。
	Embed(text string) []float32
	// EmbedBatch 按输入顺序批量转换。
	EmbedBatch(texts []string) [][]float32
	// Dimension 返回向量维度。
	Dimension() int
}

// HashEmbedder 是基于字符哈希的词袋向量化器。
// 每个字符映射到一个桶并计数，最后做 L2 归一化。
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder 创建一个维度为 dim 的 HashEmbedder，dim <= 0 时使用默认维度。
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dimension() int {
	return e.dim
}

// Embed 对空文本返回全零向量，其余情况返回单位向量。
func (e *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	if text == "" {
		return vec
	}

	var buf [utf8.UTFMax]byte
	for _, r := range text {
		n := utf8.EncodeRune(buf[:], r)
		sum := sha256.Sum256(buf[:n])
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(e.dim)
		vec[bucket] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (e *HashEmbedder) EmbedBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.Embed(t)
	}
	return out
}
