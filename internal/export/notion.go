package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/pkg/notion"
)

// fingerprintProp is the rich_text property that marks a page as belonging to
// a specific lead. Re-exports skip fingerprints already present.
const fingerprintProp = "Fingerprint"

// NotionSink creates one page per lead in a Notion database.
type NotionSink struct {
	client notion.Client
	dbID   string
	seen   map[string]struct{}
}

// NewNotionSink scans the target database once so that re-running an export
// does not duplicate pages.
func NewNotionSink(ctx context.Context, client notion.Client, dbID string) (*NotionSink, error) {
	pages, err := notion.QueryAll(ctx, client, dbID, &notionapi.DatabaseQueryRequest{PageSize: 100})
	if err != nil {
		return nil, eris.Wrap(err, "export: scan notion database")
	}

	seen := make(map[string]struct{}, len(pages))
	for i := range pages {
		if fp := richTextValue(pages[i].Properties[fingerprintProp]); fp != "" {
			seen[fp] = struct{}{}
		}
	}
	zap.L().Debug("notion target scanned",
		zap.Int("pages", len(pages)),
		zap.Int("fingerprints", len(seen)),
	)
	return &NotionSink{client: client, dbID: dbID, seen: seen}, nil
}

func (s *NotionSink) Write(ctx context.Context, leads []model.Lead) (int, error) {
	written := 0
	for i := range leads {
		l := leads[i]
		if _, dup := s.seen[l.Fingerprint]; dup {
			continue
		}

		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(s.dbID),
			},
			Properties: leadProperties(l),
		}
		if _, err := s.client.CreatePage(ctx, req); err != nil {
			return written, eris.Wrap(err, fmt.Sprintf("export: create notion page for %s", l.CompanyName))
		}
		s.seen[l.Fingerprint] = struct{}{}
		written++
	}
	return written, nil
}

func (s *NotionSink) Close() error { return nil }

// leadProperties maps a lead onto Notion page properties. The company name
// becomes the title, the website a url property, rating and review count
// numbers, and the rest rich_text. Empty fields are omitted so pages do not
// fill up with blank properties.
func leadProperties(l model.Lead) notionapi.Properties {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: l.CompanyName}},
			},
		},
		"Status":        notionapi.StatusProperty{Status: notionapi.Status{Name: "New"}},
		fingerprintProp: richText(l.Fingerprint),
	}
	if l.AreaName != "" {
		props["Location"] = richText(l.AreaName)
	}
	if l.Address != "" {
		props["Address"] = richText(l.Address)
	}
	if l.Phone != "" {
		props["Phone"] = notionapi.PhoneNumberProperty{
			Type:        notionapi.PropertyTypePhoneNumber,
			PhoneNumber: l.Phone,
		}
	}
	if l.Website != "" {
		props["URL"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  l.Website,
		}
	}
	if l.Rating != nil {
		props["Rating"] = notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: *l.Rating,
		}
	}
	if l.ReviewsCount != nil {
		props["Reviews"] = notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(*l.ReviewsCount),
		}
	}
	if l.SourceQuery != "" {
		props["Search"] = richText(l.SourceQuery)
	}
	return props
}

func richText(v string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: v}},
		},
	}
}

// richTextValue extracts the plain text of a rich_text property. The API
// decoder hands back pointers while literals in this codebase are values, so
// both forms are accepted.
func richTextValue(p notionapi.Property) string {
	var rt []notionapi.RichText
	switch v := p.(type) {
	case *notionapi.RichTextProperty:
		rt = v.RichText
	case notionapi.RichTextProperty:
		rt = v.RichText
	default:
		return ""
	}

	var b strings.Builder
	for _, r := range rt {
		if r.PlainText != "" {
			b.WriteString(r.PlainText)
		} else if r.Text != nil {
			b.WriteString(r.Text.Content)
		}
	}
	return b.String()
}
