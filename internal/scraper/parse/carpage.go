package parse

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/akarpovich/riacrawler/internal/infra/httpx"
)

var (
	nonDigitsRe  = regexp.MustCompile(`[^\d]`)
	photoCountRe = regexp.MustCompile(`все\s+(\d+)\s+фот`)

	// phoneRe matches Ukrainian numbers as they appear after a reveal,
	// e.g. "(067) 123 45 67" or "+380 67 123 4567".
	phoneRe = regexp.MustCompile(`(?:\+?38[\s(]*)?\(?0\d{2}\)?[\s-]*\d{3}[\s-]*\d{2}[\s-]*\d{2}`)
)

type carParser struct{}

func InitCarParser() Parser { return carParser{} }

// Parse extracts the draft record fields from a detail page. Each field is
// independent: a missing or mangled value becomes nil and the rest of the
// record survives. Only a page with no recognizable listing content at all
// is a hard parse error.
func (carParser) Parse(pageURL string, htmlBody []byte) (*PartialFields, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return nil, &httpx.ParseError{URL: pageURL, Reason: "invalid html: " + err.Error()}
	}

	f := &CarFields{
		Title:      extractTitle(doc),
		PriceUSD:   extractPriceUSD(doc),
		Mileage:    extractMileage(doc),
		SellerName: extractSellerName(doc),
		VIN:        extractVIN(doc),
		Plate:      extractPlate(doc),
		Deleted:    isDeletedListing(doc),
	}
	f.ImageURL, f.PhotoURLs = extractPhotos(doc)
	f.PhotoCount = extractPhotoCount(doc, len(f.PhotoURLs))
	f.PhoneHash, f.PhoneExpires = extractPhoneToken(doc)

	if f.Deleted {
		return &PartialFields{Car: f}, nil
	}
	if f.Title == nil && f.PriceUSD == nil && f.SellerName == nil {
		return nil, &httpx.ParseError{URL: pageURL, Reason: "no listing content"}
	}
	return &PartialFields{Car: f}, nil
}

func extractTitle(doc *goquery.Document) *string {
	t := strings.TrimSpace(doc.Find("h1.head, h3.auto-content_title").First().Text())
	if t == "" {
		return nil
	}
	return &t
}

func extractPriceUSD(doc *goquery.Document) *int {
	raw := doc.Find("div.price_value > strong").First().Text()
	digits := nonDigitsRe.ReplaceAllString(raw, "")
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

// extractMileage reads the odometer block; the site states mileage in
// thousands of kilometers ("142 тис. км"), occasionally in plain km.
func extractMileage(doc *goquery.Document) *int {
	sel := doc.Find("div.base-information span.size18").First()
	raw := sel.Text()
	digits := nonDigitsRe.ReplaceAllString(raw, "")
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	if strings.Contains(raw, "тис") {
		n *= 1000
	}
	return &n
}

// extractSellerName walks the selector ladder used across the site's page
// variants (dealers, private sellers, legacy markup).
func extractSellerName(doc *goquery.Document) *string {
	for _, sel := range []string{
		"a.sellerPro",
		"div.seller_info_name > a",
		"h4.seller_info_name > a",
		"div.user-name > h4.seller_info_name",
		".seller_info .seller_info_name",
		"div.seller_info_name.grey.bold",
		"div.seller_info_name.bold",
	} {
		if name := strings.TrimSpace(doc.Find(sel).First().Text()); name != "" {
			return &name
		}
	}
	return nil
}

func extractVIN(doc *goquery.Document) *string {
	raw := strings.TrimSpace(doc.Find("span.label-vin, span.vin-code, .vin-checked+.data-check .vin").First().Text())
	if raw == "" {
		return nil
	}
	// Canonical casing only; VINs are stored uninterpreted, no checksum.
	vin := strings.ToUpper(strings.ReplaceAll(raw, " ", ""))
	return &vin
}

// extractPlate reads the license plate from span.state-num, taking only the
// element's direct text so the nested popup markup is ignored.
func extractPlate(doc *goquery.Document) *string {
	sel := doc.Find("span.state-num").First()
	if sel.Length() == 0 {
		return nil
	}
	var direct strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			direct.WriteString(c.Text())
		}
	})
	plate := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(direct.String()), " ", ""))
	if !plausiblePlate(plate) {
		return nil
	}
	return &plate
}

// plausiblePlate filters out popup leftovers: a real plate has letters and
// digits and is at least six characters.
func plausiblePlate(p string) bool {
	if len(p) < 6 {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range p {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

func extractPhotos(doc *goquery.Document) (*string, []string) {
	var main *string
	var urls []string
	seen := map[string]bool{}

	doc.Find("div.photo-620x465 img[src], div.preview-gallery img[src]").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" || seen[src] {
			return
		}
		seen[src] = true
		urls = append(urls, src)
		if main == nil && img.HasClass("outline") {
			main = &src
		}
	})
	if main == nil && len(urls) > 0 {
		main = &urls[0]
	}
	return main, urls
}

func extractPhotoCount(doc *goquery.Document, fallback int) int {
	if m := photoCountRe.FindStringSubmatch(doc.Find("a.show-all").Text()); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return fallback
}

// extractPhoneToken finds the hash/expires pair the phone XHR endpoint
// requires. The site moves it around: usually on a script tag, sometimes on
// an arbitrary element.
func extractPhoneToken(doc *goquery.Document) (hash, expires string) {
	doc.Find("script[data-hash][data-expires]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		hash, _ = s.Attr("data-hash")
		expires, _ = s.Attr("data-expires")
		return false
	})
	if hash == "" || expires == "" {
		doc.Find("[data-hash][data-expires]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			hash, _ = s.Attr("data-hash")
			expires, _ = s.Attr("data-expires")
			return false
		})
	}
	return hash, expires
}

func isDeletedListing(doc *goquery.Document) bool {
	notice := doc.Find("div#autoDeletedTopBlock")
	if notice.Length() == 0 {
		return false
	}
	text := notice.Text()
	return strings.Contains(text, "удалено") || strings.Contains(text, "видалено")
}

// FindPhone scans rendered page HTML for a phone number after a reveal
// interaction.
func FindPhone(htmlBody string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err == nil {
		if m := phoneRe.FindString(doc.Find(".phones_item span.phone, .phones_item .phone, span.phone").Text()); m != "" {
			return NormalizePhone(m)
		}
	}
	if m := phoneRe.FindString(htmlBody); m != "" {
		return NormalizePhone(m)
	}
	return ""
}

// NormalizePhone reduces a displayed number to the +380 international form.
// Non-Ukrainian numbers keep their digits with a plus prefix.
func NormalizePhone(raw string) string {
	digits := nonDigitsRe.ReplaceAllString(raw, "")
	switch {
	case strings.HasPrefix(digits, "0") && len(digits) >= 10:
		return "+380" + digits[1:]
	case strings.HasPrefix(digits, "380") && len(digits) >= 12:
		return "+" + digits
	case digits == "":
		return ""
	default:
		return "+" + digits
	}
}
