package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

func file(name, size, access, descr, fileType, href string) crawler.FileStub {
	return crawler.FileStub{
		Filename:    name,
		Size:        size,
		Access:      access,
		Description: descr,
		FileType:    fileType,
		Href:        href,
	}
}

func filenames(cands []crawler.Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Filename)
	}
	return out
}

func TestClassify(t *testing.T) {
	cl := New(DefaultConstraints())

	testCases := []struct {
		name   string
		file   crawler.FileStub
		bucket string
	}{
		{"open pdf with whitelisted description", file("Ritgerd.pdf", "2 MB", "Opinn", "Heildartexti", "PDF", "/b/1"), "kept"},
		{"open pdf with level token in name", file("Lokaverkefni_Jon_MSc.pdf", "2 MB", "Opinn", "", "PDF", "/b/2"), "kept"},
		{"phd token", file("thesis-PhD.pdf", "2 MB", "Opinn", "Aðalskjal", "PDF", "/b/3"), "kept"},
		{"oversize beats whitelist", file("Ritgerd_heild.pdf", "80 MB", "Opinn", "Heild", "PDF", "/b/4"), "blocked"},
		{"closed access", file("Ritgerd_heild.pdf", "2 MB", "Lokaður", "Heild", "PDF", "/b/5"), "blocked"},
		{"english closed", file("BSc_thesis.pdf", "2 MB", "Closed", "Full text", "PDF", "/b/6"), "blocked"},
		{"not a pdf", file("gogn.xlsx", "2 MB", "Opinn", "Gögn", "Microsoft Excel", "/b/7"), "blocked"},
		{"blacklisted description", file("skjal.pdf", "1 MB", "Opinn", "Forsíða", "PDF", "/b/8"), "blocked"},
		{"empty description", file("skjal.pdf", "1 MB", "Opinn", "", "PDF", "/b/9"), "investigate"},
		{"unparseable size", file("Ritgerd.pdf", "óþekkt", "Opinn", "Heild", "PDF", "/b/10"), "investigate"},
		{"unparseable size closed", file("Ritgerd.pdf", "?", "Lokaður", "Heildartexti", "PDF", "/b/13"), "blocked"},
		{"unparseable size not pdf", file("gogn.zip", "", "Opinn", "Gögn", "ZIP", "/b/14"), "blocked"},
		{"no signal", file("skjal.pdf", "1 MB", "Opinn", "Aðalskjal", "PDF", "/b/11"), "unclassified"},
		{"level token needs boundary", file("drama.pdf", "1 MB", "Opinn", "Aðalskjal", "PDF", "/b/12"), "unclassified"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := cl.Classify([]crawler.FileStub{tc.file})
			buckets := map[string]int{
				"kept":         len(got.Kept),
				"blocked":      len(got.Blocked),
				"investigate":  len(got.Investigate),
				"unclassified": len(got.Unclassified),
			}
			for bucket, n := range buckets {
				if bucket == tc.bucket {
					assert.Equal(t, 1, n, bucket)
				} else {
					assert.Zero(t, n, bucket)
				}
			}
		})
	}
}

func TestClassifyIsDeterministicAndSorted(t *testing.T) {
	cl := New(DefaultConstraints())
	files := []crawler.FileStub{
		file("b_MA.pdf", "3 MB", "Opinn", "", "PDF", "/bitstream/2"),
		file("Yfirlysing.pdf", "100 kB", "Opinn", "Yfirlýsing", "PDF", "/bitstream/3"),
		file("a_heild.pdf", "2,5 MB", "Opinn", "Heild", "PDF", "/bitstream/1"),
		file("Closed_BA.pdf", "1 MB", "Closed", "Heild", "PDF", "/bitstream/0"),
	}

	first := cl.Classify(files)
	second := cl.Classify(files)
	require.Equal(t, first, second)

	assert.Equal(t, []string{"a_heild.pdf", "b_MA.pdf"}, filenames(first.Kept))
	assert.Equal(t, []string{"Yfirlysing.pdf", "Closed_BA.pdf"}, filenames(first.Blocked))
	assert.InDelta(t, 5.5, first.KeptMB, 1e-9)
	assert.Equal(t, "/bitstream/2", files[0].Href, "input is not reordered")
}

func TestClassifyWithoutSizeLimit(t *testing.T) {
	c := DefaultConstraints()
	c.LimitSize = false
	got := New(c).Classify([]crawler.FileStub{file("Ritgerd.pdf", "3 GB", "Opinn", "Heild", "PDF", "/b")})
	require.Len(t, got.Kept, 1)
	assert.InDelta(t, 3000.0, got.Kept[0].SizeMB, 1e-9)
}
