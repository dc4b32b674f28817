package config

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	industrySplit = regexp.MustCompile(`[/,&]+`)
	nonLabel      = regexp.MustCompile(`[^a-z0-9]+`)
	titleCaser    = cases.Title(language.Und)
)

// baseSubreddits are included for every industry.
var baseSubreddits = []string{"smallbusiness", "entrepreneur", "startup", "startups", "saas"}

// industrySubreddits maps industry terms to subreddits, checked in order.
var industrySubreddits = []struct {
	term string
	subs []string
}{
	{"hr", []string{"humanresources"}},
	{"human resources", []string{"humanresources"}},
	{"payroll", []string{"payroll", "bookkeeping", "accounting"}},
	{"finance", []string{"personalfinancecanada", "personalfinance", "accounting"}},
	{"accounting", []string{"accounting", "bookkeeping"}},
	{"tax", []string{"tax", "cantax"}},
	{"marketing", []string{"marketing", "digitalmarketing", "socialmedia"}},
	{"sales", []string{"sales"}},
	{"crm", []string{"sales", "crm"}},
	{"ecommerce", []string{"ecommerce", "shopify"}},
	{"devops", []string{"devops", "sysadmin"}},
	{"software", []string{"sysadmin"}},
	{"legal", []string{"legaladvice"}},
	{"real estate", []string{"realestate", "commercialrealestate"}},
	{"healthcare", []string{"healthcare"}},
	{"education", []string{"edtech"}},
	{"recruiting", []string{"recruiting", "humanresources"}},
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

// deriveAliases yields the lowercase, no-space and .com forms of the name.
func deriveAliases(name string) []string {
	lower := strings.ToLower(name)
	noSpaces := strings.ReplaceAll(lower, " ", "")
	return appendUnique([]string{lower}, noSpaces, noSpaces+".com")
}

func deriveSubreddits(industry string) []string {
	subs := append([]string(nil), baseSubreddits...)
	lower := strings.ToLower(industry)
	for _, m := range industrySubreddits {
		if strings.Contains(lower, m.term) {
			subs = appendUnique(subs, m.subs...)
		}
	}
	return subs
}

func industryTerms(industry string) []string {
	var out []string
	for _, t := range industrySplit.Split(industry, -1) {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func deriveKeywords(industry string) []string {
	var kw []string
	for _, t := range industryTerms(strings.ToLower(industry)) {
		kw = appendUnique(kw, t, t+" software")
	}
	return appendUnique(kw, "small business", "startup", "recommend", "best")
}

func deriveQueries(brand, industry string, competitors []string, year int) QueryConfig {
	noSpace := strings.ReplaceAll(brand, " ", "")
	dotCom := strings.ToLower(noSpace) + ".com"
	terms := industryTerms(industry)
	slug := strings.ToLower(strings.Join(terms, " "))

	top := competitors
	if len(top) > 4 {
		top = top[:4]
	}
	quoted := make([]string, len(top))
	for i, c := range top {
		quoted[i] = fmt.Sprintf("%q", titleCaser.String(c))
	}
	compOr := strings.Join(quoted, " OR ")

	q := QueryConfig{
		Daily: []QuerySpec{
			{Label: "brand_direct", Query: fmt.Sprintf("%q OR %q OR %q", brand, noSpace, dotCom)},
			{Label: "industry_recommend", Query: slug + " software recommend OR best"},
			{Label: "competitor_mentions", Query: strings.TrimSpace(compOr + " " + slug)},
		},
		Weekly: []QuerySpec{
			{Label: "switching_platforms", Query: "switching OR migrating " + slug + " software"},
			{Label: "comparison_threads", Query: slug + " vs recommend"},
			{Label: fmt.Sprintf("best_%d", year), Query: fmt.Sprintf("best %s software %d", slug, year)},
		},
	}

	first := "software"
	if len(terms) > 0 {
		first = terms[0]
	}
	q.Scrape = []QuerySpec{
		{Label: "brand_general", Query: fmt.Sprintf("%q", brand)},
		{Label: "brand_domain", Query: fmt.Sprintf("%q OR %q", noSpace, dotCom)},
		{Label: "best_" + nonLabel.ReplaceAllString(strings.ToLower(first), "_"), Query: "best " + slug + " software"},
		{Label: "recommend", Query: slug + " software recommendation"},
	}
	for _, c := range top {
		label := strings.Trim(nonLabel.ReplaceAllString(strings.ToLower(c), "_"), "_")
		q.Scrape = append(q.Scrape, QuerySpec{
			Label: "competitor_" + label,
			Query: fmt.Sprintf("%q %s", titleCaser.String(c), slug),
		})
	}
	return q
}
