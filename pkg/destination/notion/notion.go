package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf16"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"

	"tagbridge/pkg/destination"
)

// DestinationType is the config value selecting this destination.
const DestinationType = "notion_page"

// Notion caps one rich text object at 2000 characters, counted in UTF-16 units.
const richTextLimit = 2000

// DefaultRequestsPerSecond is the average rate Notion documents for integrations.
const DefaultRequestsPerSecond = 3.0

// blockAppender is the slice of notionapi.BlockService the destination needs.
type blockAppender interface {
	AppendChildren(ctx context.Context, id notionapi.BlockID, req *notionapi.AppendBlockChildrenRequest) (*notionapi.AppendBlockChildrenResponse, error)
}

// Client shares one API token and one rate limiter across every page destination.
type Client struct {
	blocks  blockAppender
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient validates the integration token and builds a rate-limited client.
func NewClient(token string, requestsPerSecond float64, log *slog.Logger) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("notion.token is required")
	}
	if log == nil {
		log = slog.Default()
	}

	api := notionapi.NewClient(notionapi.Token(token))
	return newClient(api.Block, requestsPerSecond, log), nil
}

func newClient(blocks blockAppender, requestsPerSecond float64, log *slog.Logger) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}

	return &Client{
		blocks:  blocks,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		log:     log.With("component", "destination.notion"),
	}
}

// Page appends forwarded text as a paragraph block at the end of one Notion page.
type Page struct {
	client *Client
	pageID string
}

// Page returns a destination bound to pageID.
func (c *Client) Page(pageID string) (*Page, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return nil, errors.New("notion page_id is required")
	}

	return &Page{client: c, pageID: pageID}, nil
}

// Deliver appends text as one paragraph. Failures are returned as DeliverError.
func (p *Page) Deliver(ctx context.Context, text string) error {
	if err := p.client.limiter.Wait(ctx); err != nil {
		return destination.NewDeliverError(p.String(), fmt.Errorf("wait for rate limiter: %w", err))
	}

	req := &notionapi.AppendBlockChildrenRequest{
		Children: []notionapi.Block{paragraph(text)},
	}
	if _, err := p.client.blocks.AppendChildren(ctx, notionapi.BlockID(p.pageID), req); err != nil {
		return destination.NewDeliverError(p.String(), fmt.Errorf("append block: %w", err))
	}

	p.client.log.Debug("Appended paragraph", "page_id", p.pageID, "utf16_len", len(utf16.Encode([]rune(text))))
	return nil
}

func (p *Page) String() string {
	return "notion page " + p.pageID
}

// paragraph builds a paragraph block, splitting text into rich text runs that each
// fit Notion's per-object limit.
func paragraph(text string) *notionapi.ParagraphBlock {
	chunks := splitUTF16(text, richTextLimit)
	richText := make([]notionapi.RichText, 0, len(chunks))
	for _, chunk := range chunks {
		richText = append(richText, notionapi.RichText{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: chunk},
		})
	}

	return &notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{RichText: richText},
	}
}

// splitUTF16 cuts text into chunks of at most limit UTF-16 units without splitting a
// surrogate pair.
func splitUTF16(text string, limit int) []string {
	if text == "" {
		return []string{""}
	}

	var chunks []string
	var current strings.Builder
	units := 0
	for _, r := range text {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > limit {
			chunks = append(chunks, current.String())
			current.Reset()
			units = 0
		}
		current.WriteRune(r)
		units += n
	}
	chunks = append(chunks, current.String())

	return chunks
}
