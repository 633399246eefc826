// package formatter provides functions to export a mirrored collection to various formats (CSV, Markdown, JSON)
package formatter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// Format is an export format accepted by [Write].
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat validates a user supplied format name. "md" is accepted for Markdown.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
}

// Export is a collection with its active members in position order.
type Export struct {
	Collection *models.Collection
	Members    []models.MemberView
}

// FormatDuration renders d as m:ss, or h:mm:ss from one hour up.
func FormatDuration(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ExportToCSV converts an Export to CSV with columns: Position, VideoID, Title, Channel, Duration, URL
func ExportToCSV(export *Export) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Position", "VideoID", "Title", "Channel", "Duration", "URL"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, m := range export.Members {
		record := []string{
			strconv.Itoa(m.Position + 1),
			m.RemoteVideoID,
			m.Title,
			m.ChannelTitle,
			strconv.Itoa(int(m.Duration / time.Second)),
			m.URL(),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts an Export to Markdown with an optional cover image
func ExportToMarkdown(export *Export, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer
	c := export.Collection

	fmt.Fprintf(&buf, "# %s\n\n", c.Title)

	if imageFilename != "" {
		fmt.Fprintf(&buf, "![Cover](%s)\n\n", imageFilename)
	}

	if c.Description != "" {
		fmt.Fprintf(&buf, "**Description**: %s\n\n", c.Description)
	}
	if c.ChannelTitle != "" {
		fmt.Fprintf(&buf, "**Channel**: %s\n", c.ChannelTitle)
	}

	var total time.Duration
	for _, m := range export.Members {
		total += m.Duration
	}
	fmt.Fprintf(&buf, "**Videos**: %d\n", len(export.Members))
	fmt.Fprintf(&buf, "**Length**: %s\n", FormatDuration(total))
	if c.LastSyncedAt != nil {
		fmt.Fprintf(&buf, "**Last synced**: %s\n", c.LastSyncedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&buf, "**Source**: https://www.youtube.com/playlist?list=%s\n\n", c.RemoteID)

	buf.WriteString("## Videos\n\n")
	for _, m := range export.Members {
		channel := ""
		if m.ChannelTitle != "" {
			channel = fmt.Sprintf(" (%s)", m.ChannelTitle)
		}
		fmt.Fprintf(&buf, "%d. [%s](%s)%s [%s]\n", m.Position+1, m.Title, m.URL(), channel, FormatDuration(m.Duration))
	}

	return buf.Bytes(), nil
}

type jsonMember struct {
	Position     int       `json:"position"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	ChannelTitle string    `json:"channel_title,omitempty"`
	Seconds      int       `json:"duration_seconds"`
	URL          string    `json:"url"`
	AddedAt      time.Time `json:"added_at"`
}

type jsonCollection struct {
	ID           string       `json:"id"`
	RemoteID     string       `json:"remote_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	ChannelTitle string       `json:"channel_title,omitempty"`
	ItemCount    int          `json:"item_count"`
	Status       string       `json:"status"`
	LastSyncedAt *time.Time   `json:"last_synced_at,omitempty"`
	Members      []jsonMember `json:"members,omitempty"`
}

func toJSON(c *models.Collection, members []models.MemberView) jsonCollection {
	out := jsonCollection{
		ID:           c.ID(),
		RemoteID:     c.RemoteID,
		Title:        c.Title,
		Description:  c.Description,
		ChannelTitle: c.ChannelTitle,
		ItemCount:    c.ItemCount,
		Status:       string(c.Status),
		LastSyncedAt: c.LastSyncedAt,
	}
	for _, m := range members {
		out.Members = append(out.Members, jsonMember{
			Position:     m.Position,
			VideoID:      m.RemoteVideoID,
			Title:        m.Title,
			ChannelTitle: m.ChannelTitle,
			Seconds:      int(m.Duration / time.Second),
			URL:          m.URL(),
			AddedAt:      m.AddedAt,
		})
	}
	return out
}

// ExportToJSON renders the collection and its members as indented JSON
func ExportToJSON(export *Export) ([]byte, error) {
	return shared.MarshalJSON(toJSON(export.Collection, export.Members), true)
}

// ToMetadataJSON generates a JSON representation of collection metadata (without members)
func ToMetadataJSON(c *models.Collection) ([]byte, error) {
	return shared.MarshalJSON(toJSON(c, nil), true)
}

// DownloadImage downloads an image from the given URL and returns the raw bytes
func DownloadImage(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty URL provided")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return imageData, nil
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	MembersFile  string
	MetadataFile string
}

// WriteCSVExport exports a collection to CSV format with accompanying metadata JSON file.
//
// Defaults to the remote playlist ID as the base filename & creates {base}_videos.csv and {base}_metadata.json
func WriteCSVExport(export *Export, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = export.Collection.RemoteID
	}

	csvData, err := ExportToCSV(export)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	membersFile := baseFilepath + "_videos.csv"
	if err := os.WriteFile(membersFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	metadataJSON, err := ToMetadataJSON(export.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := baseFilepath + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &CSVExportResult{
		MembersFile:  membersFile,
		MetadataFile: metadataFile,
	}, nil
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory  string
	Files      []string
	CoverImage string
}

// WriteMarkdownExport exports a collection to Markdown format in a dedicated directory.
//
// Directory name defaults to the remote playlist ID. When withCover is set, the first video's thumbnail is
// downloaded as the cover; a failed download is reported through warn and the export continues without it.
// Creates a directory structure: {dir}/README.md and optionally {dir}/cover.jpg
func WriteMarkdownExport(ctx context.Context, export *Export, outputDir string, withCover bool, warn func(error)) (*MarkdownExportResult, error) {
	if outputDir == "" {
		outputDir = export.Collection.RemoteID
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{
		Directory: outputDir,
		Files:     []string{},
	}

	var coverImageFilename string
	if withCover && len(export.Members) > 0 && export.Members[0].ThumbnailURL != "" {
		if err := saveCover(ctx, export.Members[0].ThumbnailURL, outputDir, result); err != nil {
			if warn != nil {
				warn(err)
			}
		} else {
			coverImageFilename = filepath.Base(result.CoverImage)
		}
	}

	mdData, err := ExportToMarkdown(export, coverImageFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}

	result.Files = append(result.Files, mdFile)

	return result, nil
}

func saveCover(ctx context.Context, url, dir string, result *MarkdownExportResult) error {
	imageData, err := DownloadImage(ctx, url)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "cover.jpg")
	if err := os.WriteFile(path, imageData, 0644); err != nil {
		return fmt.Errorf("failed to save cover image: %w", err)
	}
	result.CoverImage = path
	result.Files = append(result.Files, path)
	return nil
}

// WriteJSONExport writes the collection and its members to a JSON file.
//
// Defaults to {remoteID}.json as the filename.
func WriteJSONExport(export *Export, path string) (string, error) {
	if path == "" {
		path = export.Collection.RemoteID + ".json"
	}

	data, err := ExportToJSON(export)
	if err != nil {
		return "", fmt.Errorf("failed to generate JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write JSON file: %w", err)
	}

	return path, nil
}

// Write exports in the given format to path, returning every file written.
func Write(ctx context.Context, export *Export, format Format, path string, warn func(error)) ([]string, error) {
	switch format {
	case FormatCSV:
		res, err := WriteCSVExport(export, path)
		if err != nil {
			return nil, err
		}
		return []string{res.MembersFile, res.MetadataFile}, nil
	case FormatMarkdown:
		res, err := WriteMarkdownExport(ctx, export, path, true, warn)
		if err != nil {
			return nil, err
		}
		return res.Files, nil
	case FormatJSON:
		file, err := WriteJSONExport(export, path)
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	}
	return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
}
