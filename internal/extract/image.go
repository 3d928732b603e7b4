package extract

import "context"

// ImageExtractor runs an OCR backend over the whole image and emits a single
// paragraph block, identical in shape to PDFExtractor's per-page OCR
// fallback. With NoopOCR wired (the shipped default, since no OCR library
// exists anywhere in the example pack) it emits an empty block flagged
// text_recognized=false rather than failing extraction.
type ImageExtractor struct {
	ocr OCREngine
}

func NewImageExtractor(ocr OCREngine) *ImageExtractor {
	if ocr == nil {
		ocr = NoopOCR{}
	}
	return &ImageExtractor{ocr: ocr}
}

func (e *ImageExtractor) Extract(ctx context.Context, in Input) (RawDocument, error) {
	if len(in.Data) == 0 {
		return RawDocument{}, extractionFailed("empty_image")
	}

	text, conf, err := e.ocr.Recognize(ctx, in.Data)
	if err != nil {
		return RawDocument{}, extractionFailed("ocr_failed: " + err.Error())
	}
	if text == "" || conf < ocrConfidenceThreshold {
		return RawDocument{
			Blocks:   []Block{{Kind: BlockParagraph, Text: "", Metadata: map[string]string{"text_recognized": "false"}}},
			Metadata: map[string]string{"mime_type": in.MimeType},
		}, nil
	}
	return RawDocument{
		Blocks:   []Block{{Kind: BlockParagraph, Text: text, Metadata: map[string]string{"text_recognized": "true"}}},
		Metadata: map[string]string{"mime_type": in.MimeType},
	}, nil
}
