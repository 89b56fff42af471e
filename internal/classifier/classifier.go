// Package classifier picks the primary file of a document out of its file table.
// Classification is a pure function of the file list and the constraints.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/thesis-harvester/internal/crawler"
)

// DefaultMaxSizeMB is the largest file kept when size limiting is on.
const DefaultMaxSizeMB = 75

// levelPattern matches thesis-level tokens in a lower-cased filename.
var levelPattern = regexp.MustCompile(`(?i)(\b|_)(ba|b\.a|bs|b\.s|bsc|b\.sc|b\.ed|ma|m\.a|ms|m\.s|msc|m\.sc|phd|ph\.d)(\b|_)`)

// Constraints parameterize a Classifier.
type Constraints struct {
	MaxSizeMB   float64
	LimitSize   bool
	OpenMarkers []string
	Whitelist   []string
	Blacklist   []string
}

// DefaultConstraints returns the keyword lists used for the Icelandic repository.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxSizeMB:   DefaultMaxSizeMB,
		LimitSize:   true,
		OpenMarkers: []string{"opinn", "open"},
		Whitelist: []string{
			"heild",
			"ritgerð",
			"ritgerd",
			"greinagerð",
			"greinargerð",
			"lokaverkefni",
			"handrit",
			"handbok",
			"handbók",
			"bækling",
			"skýrsla",
			"skyrsla",
			"meginmál",
			"meginmal",
		},
		Blacklist: []string{
			"forsíða",
			"forsida",
			"útdráttur",
			"úrdráttur",
			"ágrip",
			"efnisyfirlit",
			"efnisskrá",
			"heimildaskrá",
			"heimildarskrá",
			"heimildir",
			"yfirlýsing",
			"viðtal",
			"kápa",
			"titilsíða",
			"abstract",
			"beiðni um lokun",
			"samþykki",
			"leyfisbr",
			"teikning",
			"þakkir",
			"þakkar",
			"thakkir",
			"thakkar",
			"fylgiskjal",
			"fylgiskjöl",
			"fylgirit",
			"viðauki",
			"viðaukar",
			"lokun",
		},
	}
}

// Classifier implements crawler.Classifier.
type Classifier struct {
	c Constraints
}

// New builds a Classifier. Keyword lists are matched case-insensitively.
func New(c Constraints) *Classifier {
	c.OpenMarkers = lowerAll(c.OpenMarkers)
	c.Whitelist = lowerAll(c.Whitelist)
	c.Blacklist = lowerAll(c.Blacklist)
	return &Classifier{c: c}
}

// Classify partitions files. Precedence per file:
//  1. over the size limit: blocked
//  2. open, PDF and a whitelist or thesis-level match: kept
//  3. closed, not PDF or a blacklisted description: blocked
//  4. empty description: investigate
//  5. anything else: unclassified
//
// A size that cannot be parsed skips rule 1. Such a file can still be blocked,
// otherwise it goes to investigate. Kept files are sorted by href, then filename.
func (cl *Classifier) Classify(files []crawler.FileStub) crawler.Classification {
	var out crawler.Classification
	for _, f := range files {
		size, err := ParseSizeMB(f.Size)
		cand := crawler.Candidate{FileStub: f, SizeMB: size}
		v := cl.decide(f, size, err == nil)
		if err != nil && v != verdictBlocked {
			v = verdictInvestigate
		}
		switch v {
		case verdictKept:
			out.Kept = append(out.Kept, cand)
			out.KeptMB += size
		case verdictBlocked:
			out.Blocked = append(out.Blocked, cand)
		case verdictInvestigate:
			out.Investigate = append(out.Investigate, cand)
		default:
			out.Unclassified = append(out.Unclassified, cand)
		}
	}
	sort.SliceStable(out.Kept, func(i, j int) bool {
		if out.Kept[i].Href != out.Kept[j].Href {
			return out.Kept[i].Href < out.Kept[j].Href
		}
		return out.Kept[i].Filename < out.Kept[j].Filename
	})
	return out
}

type verdict int

const (
	verdictUnclassified verdict = iota
	verdictKept
	verdictBlocked
	verdictInvestigate
)

func (cl *Classifier) decide(f crawler.FileStub, sizeMB float64, sizeKnown bool) verdict {
	if sizeKnown && cl.c.LimitSize && sizeMB > cl.c.MaxSizeMB {
		return verdictBlocked
	}
	name := strings.ToLower(f.Filename)
	descr := strings.ToLower(strings.TrimSpace(f.Description))
	open := containsAny(strings.ToLower(f.Access), cl.c.OpenMarkers)
	pdf := isPDF(name, f.FileType)

	if open && pdf && (containsAny(descr, cl.c.Whitelist) || containsAny(name, cl.c.Whitelist) || levelPattern.MatchString(name)) {
		return verdictKept
	}
	if !open || !pdf || containsAny(descr, cl.c.Blacklist) {
		return verdictBlocked
	}
	if descr == "" {
		return verdictInvestigate
	}
	return verdictUnclassified
}

func isPDF(lowerName, fileType string) bool {
	return strings.Contains(strings.ToLower(fileType), "pdf") || strings.Contains(lowerName, ".pdf")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
