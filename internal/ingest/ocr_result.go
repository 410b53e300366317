package ingest

// OCRResult is the already-parsed output of the external receipt OCR
// service, converted to cents at the boundary. Every field is allowed to
// be missing or zero; downstream defaulting fills the gaps.
type OCRResult struct {
	MerchantName    string
	MerchantAddress string
	TotalCents      int64
	LineItems       []OCRLineItem
}

// OCRLineItem is one extracted receipt line.
type OCRLineItem struct {
	Name       string
	Quantity   int64
	UnitCents  int64
	TotalCents int64
}
