package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akorchak/notekeeper/internal/common"
	"github.com/akorchak/notekeeper/internal/models"
)

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"csv", "json", "markdown", "html", "docx", "pdf"} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		require.Equal(t, Format(s), f)
	}
	_, err := ParseFormat("xlsx")
	require.ErrorIs(t, err, common.ErrUnsupportedFormat)
}

func TestParseCSV_Basic(t *testing.T) {
	data := []byte("title,content,category,tags\nNote A,Body A,work,one;two\nNote B,Body B,,\n")

	records, findings, err := Parse(FormatCSV, data)
	require.NoError(t, err)
	require.Empty(t, findings)
	require.Len(t, records, 2)

	require.Equal(t, "Note A", records[0].Title)
	require.Equal(t, "Body A", records[0].Content)
	require.Equal(t, "work", records[0].Category)
	require.Equal(t, []string{"one", "two"}, records[0].Tags)
	require.Empty(t, records[1].Tags)
}

func TestParseCSV_MalformedRowDoesNotAbort(t *testing.T) {
	// Row 2 is short one field; rows 1 and 3 must still come through.
	data := []byte("title,content\nGood,body\nBad\nAlso Good,body\n")

	records, findings, err := Parse(FormatCSV, data)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, findings, 1)
	assert.Equal(t, 3, findings[0].Row) // header is row 1
	assert.Equal(t, models.SeverityError, findings[0].Severity)
}

func TestParseCSV_MissingTitleColumn(t *testing.T) {
	_, _, err := Parse(FormatCSV, []byte("name,body\na,b\n"))
	require.Error(t, err)
}

func TestParseCSV_EmptyFile(t *testing.T) {
	records, findings, err := Parse(FormatCSV, nil)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Len(t, findings, 1)
	require.Equal(t, models.SeverityWarning, findings[0].Severity)
}

func TestParseCSV_ExtraColumnsLandInExtra(t *testing.T) {
	data := []byte("title,content,author\nA,body,bob\n")
	records, _, err := Parse(FormatCSV, data)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "bob", records[0].Extra["author"])
}

func TestCSV_QuotingRoundTrip(t *testing.T) {
	// A field containing the delimiter, a quote and a newline must survive
	// serialize -> parse unchanged.
	nasty := "a,b \"quoted\"\nsecond line"
	items := []models.Item{{
		Id: "1", Title: "Tricky", Content: nasty,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}}

	out, err := Serialize(FormatCSV, items)
	require.NoError(t, err)

	records, findings, err := Parse(FormatCSV, out)
	require.NoError(t, err)
	require.Empty(t, findings)
	require.Len(t, records, 1)
	require.Equal(t, nasty, records[0].Content)
}

func TestJSON_RoundTrip(t *testing.T) {
	items := []models.Item{
		{Id: "1", Title: "First", Content: "Body 1", Category: "work", Tags: []string{"x"}},
		{Id: "2", Title: "Second", Content: "Body 2"},
	}

	out, err := Serialize(FormatJSON, items)
	require.NoError(t, err)
	require.Contains(t, string(out), `"schema_version"`)

	records, findings, err := Parse(FormatJSON, out)
	require.NoError(t, err)
	require.Empty(t, findings)
	require.Len(t, records, 2)
	require.Equal(t, "First", records[0].Title)
	require.Equal(t, "Body 1", records[0].Content)
	require.Equal(t, "work", records[0].Category)
	require.Equal(t, []string{"x"}, records[0].Tags)
}

func TestParseJSON_BareArray(t *testing.T) {
	records, _, err := Parse(FormatJSON, []byte(`[{"title":"A","content":"b"}]`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "A", records[0].Title)
}

func TestParseJSON_Garbage(t *testing.T) {
	_, _, err := Parse(FormatJSON, []byte("not json"))
	require.Error(t, err)
}

func TestParseMarkdown_Headings(t *testing.T) {
	doc := "# First\n\nbody one\n\n## Second\n\nbody two\n"
	records, findings, err := Parse(FormatMarkdown, []byte(doc))
	require.NoError(t, err)
	require.Empty(t, findings)
	require.Len(t, records, 2)
	require.Equal(t, "First", records[0].Title)
	require.Equal(t, "body one", records[0].Content)
	require.Equal(t, "Second", records[1].Title)
	require.Equal(t, "body two", records[1].Content)
}

func TestParseMarkdown_NoHeadings(t *testing.T) {
	records, _, err := Parse(FormatMarkdown, []byte("just a line\nand another\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "just a line", records[0].Title)
	require.Equal(t, "and another", records[0].Content)
}

func TestParseMarkdown_Empty(t *testing.T) {
	records, findings, err := Parse(FormatMarkdown, []byte("  \n"))
	require.NoError(t, err)
	require.Empty(t, records)
	require.Len(t, findings, 1)
	require.Equal(t, models.SeverityWarning, findings[0].Severity)
}

func TestParseHTML_StripsMarkupAndScripts(t *testing.T) {
	doc := `<html><head><title>My Page</title><style>p{color:red}</style></head>
<body><script>alert(1)</script><p>Hello   <b>world</b></p></body></html>`

	records, findings, err := Parse(FormatHTML, []byte(doc))
	require.NoError(t, err)
	require.Empty(t, findings)
	require.Len(t, records, 1)
	require.Equal(t, "My Page", records[0].Title)
	require.Equal(t, "Hello world", records[0].Content)
	require.NotContains(t, records[0].Content, "alert")
	require.NotContains(t, records[0].Content, "color")
}

func TestParseHTML_NoTitleFallsBack(t *testing.T) {
	records, _, err := Parse(FormatHTML, []byte("<p>text</p>"))
	require.NoError(t, err)
	require.Equal(t, defaultHTMLTitle, records[0].Title)
}

func TestParseUnsupported_DegradesGracefully(t *testing.T) {
	for _, f := range []Format{FormatDocx, FormatPDF} {
		records, findings, err := Parse(f, []byte{0x50, 0x4b})
		require.NoError(t, err)
		require.Empty(t, records)
		require.Len(t, findings, 1)
		require.Equal(t, models.SeverityWarning, findings[0].Severity)
		require.Contains(t, findings[0].Message, "convert")
	}
}

func TestWriteMarkdown_OneSectionPerItem(t *testing.T) {
	out, err := Serialize(FormatMarkdown, []models.Item{
		{Title: "A", Content: "one"},
		{Title: "B", Content: "two", Tags: []string{"t"}},
	})
	require.NoError(t, err)
	s := string(out)
	require.Equal(t, 2, strings.Count(s, "\n## "))
	require.Contains(t, s, "## A")
	require.Contains(t, s, "Tags: t")
}

func TestWriteHTML_EscapesInterpolatedText(t *testing.T) {
	out, err := Serialize(FormatHTML, []models.Item{
		{Title: "<script>bad</script>", Content: "a & b < c"},
	})
	require.NoError(t, err)
	s := string(out)
	require.NotContains(t, s, "<script>bad")
	require.Contains(t, s, "&lt;script&gt;")
	require.Contains(t, s, "a &amp; b &lt; c")
}

func TestSerializeUnsupported(t *testing.T) {
	_, err := Serialize(FormatPDF, nil)
	require.ErrorIs(t, err, common.ErrUnsupportedFormat)

	_, err = Serialize(Format("xlsx"), nil)
	require.ErrorIs(t, err, common.ErrUnsupportedFormat)
}
