package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"kbqa-go/pkg/errs"
)

// supportedExtensions 是允许上传的文件类型。
var supportedExtensions = map[string]bool{
	".pdf":      true,
	".ppt":      true,
	".pptx":     true,
	".md":       true,
	".markdown": true,
	".doc":      true,
	".docx":     true,
	".png":      true,
	".txt":      true,
}

// IsSupported 判断文件名后缀是否受支持（不区分大小写）。
func IsSupported(fileName string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(fileName))]
}

// TextExtractor 从文件内容中提取纯文本。
type TextExtractor interface {
	Extract(ctx context.Context, fileName string, data []byte) (string, error)
}

// BinaryExtractor 解析 PDF、Office 等二进制格式，由 tika.Client 实现。
type BinaryExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Extractor 按后缀分派：纯文本直接读取，图片生成占位描述，其余格式交给 Tika。
type Extractor struct {
	binary BinaryExtractor
}

// NewExtractor 创建 Extractor，binary 为 nil 时二进制格式会提取失败。
func NewExtractor(binary BinaryExtractor) *Extractor {
	return &Extractor{binary: binary}
}

func (e *Extractor) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".md", ".markdown", ".txt":
		return string(bytes.ToValidUTF8(data, nil)), nil
	case ".png":
		return fmt.Sprintf("图片文件：%s。当前示例环境未集成OCR，仅记录文件名称。", filepath.Base(fileName)), nil
	}
	if !supportedExtensions[ext] {
		return "", fmt.Errorf("不支持的文件类型 %q: %w", ext, errs.ErrValidation)
	}
	if e.binary == nil {
		return "", errors.New("未配置 Tika，无法解析二进制文档")
	}
	return e.binary.ExtractText(ctx, bytes.NewReader(data), fileName)
}
