package navigator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"parcelfetch/internal/domain"
)

type mockProperty struct {
	county domain.CountyID
	owner  string
	docs   map[domain.DocTypeID]string
	deeds  []string
}

// demoProperties is the fixed demo data set served by Mock.
var demoProperties = map[string]mockProperty{
	"5590200072": {
		county: "charleston",
		owner:  "Harbor View Holdings LLC",
		docs: map[domain.DocTypeID]string{
			"property_card": "Charleston Property Card",
			"tax_info":      "Charleston Tax Info",
		},
		deeds: []string{"Book 1234 Page 567", "Book 2345 Page 678"},
	},
	"5321500185": {
		county: "charleston",
		owner:  "Ashley River Partners",
		docs: map[domain.DocTypeID]string{
			"property_card": "Charleston Property Card",
			"tax_info":      "Charleston Tax Info",
		},
		deeds: []string{"Book 3456 Page 789"},
	},
	"2590502005": {
		county: "berkeley",
		owner:  "Goose Creek Land Trust",
		docs: map[domain.DocTypeID]string{
			"property_card": "Berkeley Property Card",
			"tax_bill":      "Berkeley Tax Bill",
			"tax_receipt":   "Berkeley Tax Receipt",
		},
		deeds: []string{"Book 4567 Page 890"},
	},
	"2340601038": {
		county: "berkeley",
		owner:  "Moncks Corner Farms",
		docs: map[domain.DocTypeID]string{
			"property_card": "Berkeley Property Card",
			"tax_bill":      "Berkeley Tax Bill",
		},
		deeds: []string{"Book 5678 Page 901", "Book 6789 Page 012"},
	},
}

// DemoTMSNumbers lists the properties Mock knows about, sorted.
func DemoTMSNumbers() []string {
	out := make([]string, 0, len(demoProperties))
	for tms := range demoProperties {
		out = append(out, tms)
	}
	sort.Strings(out)
	return out
}

// Mock serves generated PDFs for the demo data set. Deeds return the most
// recent recorded instance.
type Mock struct {
	// Latency is slept before each fetch, honoring ctx.
	Latency time.Duration
	// Fail forces a failure for a doc type regardless of tms.
	Fail map[domain.DocTypeID]error
}

func (m *Mock) Fetch(ctx context.Context, county domain.CountyID, tms string, docType domain.DocTypeID) (Document, error) {
	if m.Latency > 0 {
		t := time.NewTimer(m.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return Document{}, domain.Transient("request timed out", ctx.Err())
		case <-t.C:
		}
	}
	if err := m.Fail[docType]; err != nil {
		return Document{}, err
	}
	p, ok := demoProperties[tms]
	if !ok || p.county != county {
		return Document{}, domain.Permanent(fmt.Sprintf("not found: %s tms %s", county, tms), nil)
	}
	source := fmt.Sprintf("mock://%s/%s/%s", county, tms, docType)
	if docType == "deed" {
		if len(p.deeds) == 0 {
			return Document{}, domain.Permanent("not found: no recorded deeds", nil)
		}
		book := p.deeds[0]
		return Document{
			Data:        RenderPDF("Deed "+book, "TMS "+tms, "Grantee "+p.owner),
			Instance:    book,
			ContentType: "application/pdf",
			Source:      source,
		}, nil
	}
	title, ok := p.docs[docType]
	if !ok {
		return Document{}, domain.Permanent(fmt.Sprintf("not found: %s has no %s", county, docType), nil)
	}
	return Document{
		Data:        RenderPDF(title, "TMS "+tms, "Owner "+p.owner, strings.ToUpper(string(county))),
		ContentType: "application/pdf",
		Source:      source,
	}, nil
}
