// Package local recognizes documents in-process from their text layer.
package local

import (
	"context"
	"io"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/infrastructure/extractor/textlayer"
	"github.com/kirillkom/idverify/internal/infrastructure/ocr/fieldparser"
)

type Provider struct {
	extractor *textlayer.Extractor
}

func NewProvider(extractor *textlayer.Extractor) *Provider {
	if extractor == nil {
		extractor = textlayer.NewExtractor(0)
	}
	return &Provider{extractor: extractor}
}

func (p *Provider) Recognize(ctx context.Context, doc *domain.Document, content io.Reader) (domain.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OCRResult{}, err
	}
	text, err := p.extractor.Extract(doc.MimeType, content)
	if err != nil {
		return domain.OCRResult{}, err
	}
	return domain.OCRResult{
		Text:   text,
		Fields: fieldparser.Parse(doc.Type, text),
	}, nil
}
