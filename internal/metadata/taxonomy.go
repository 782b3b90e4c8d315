// file: internal/metadata/taxonomy.go
// version: 1.0.0
// guid: 4e7a1c93-2b5d-4f80-9c6e-8d3a5f1b7e24

package metadata

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// OtherSubGenre is the fallback sub-genre inside a known category.
const OtherSubGenre = "Other"

// Classification places a book in the Category/SubGenre hierarchy.
type Classification struct {
	Category string `json:"category"`
	SubGenre string `json:"sub_genre"`
}

// IsZero reports whether no category was assigned.
func (c Classification) IsZero() bool {
	return c.Category == ""
}

// SubGenre is one leaf of the taxonomy and the genre strings that map to it.
type SubGenre struct {
	Name    string
	Aliases []string
}

// Category is a top-level shelf. Order matters: the first match wins.
type Category struct {
	Name      string
	SubGenres []SubGenre
}

// Taxonomy is the ordered Category -> SubGenre -> aliases tree. Aliases
// include Open Library subject terms.
var Taxonomy = []Category{
	{Name: "Fiction", SubGenres: []SubGenre{
		{"Fantasy", []string{
			"fantasy", "fantasy fiction", "epic fantasy", "urban fantasy", "high fantasy",
			"dark fantasy", "sword and sorcery", "mythic fiction", "fantasy, epic",
			"fiction, fantasy, epic", "fiction, fantasy, general", "fantastic fiction",
			"english fantasy fiction", "magic", "wizards", "dragons",
		}},
		{"Science Fiction", []string{
			"science fiction", "sci-fi", "sf", "scifi", "speculative fiction",
			"cyberpunk", "space opera", "dystopian", "post-apocalyptic",
			"fiction, science fiction", "science fiction, general",
		}},
		{"Mystery & Thriller", []string{
			"mystery", "thriller", "suspense", "crime", "detective",
			"crime fiction", "noir", "psychological thriller", "legal thriller",
			"mystery and detective stories", "crime & mystery", "thrillers",
			"detective and mystery stories", "murder", "mystery fiction",
		}},
		{"Horror", []string{
			"horror", "gothic", "supernatural", "dark fiction", "ghost stories",
			"horror fiction", "horror tales", "occult fiction",
		}},
		{"Romance", []string{
			"romance", "romantic fiction", "love story", "romantic suspense",
			"historical romance", "contemporary romance", "love", "romance fiction",
		}},
		{"Historical Fiction", []string{
			"historical fiction", "historical novel", "historical",
			"fiction, historical", "history fiction",
		}},
		{"Literary", []string{
			"literary fiction", "literary", "classic", "classics", "classic fiction",
			"literature", "fiction in english", "english fiction", "english literature",
			"american fiction", "american literature", "contemporary fiction",
			"modern fiction", "novel", "novels", "general fiction", "fiction",
		}},
		{"Humor", []string{
			"humor", "humour", "comedy", "satire", "humorous fiction",
			"wit and humor", "humorous stories",
		}},
		{"Adventure", []string{
			"adventure", "action", "action adventure", "adventure fiction",
			"adventure stories", "sea stories", "war stories",
		}},
		{"Short Stories", []string{
			"short stories", "short fiction", "anthology", "collected stories",
			"short stories, english", "fiction, anthologies",
		}},
		{"Drama", []string{"drama", "plays", "family saga", "domestic fiction", "theatrical"}},
		{"Poetry", []string{"poetry", "poems", "verse", "poetic works", "english poetry", "american poetry"}},
		{"Young Adult Fiction", []string{
			"young adult fiction", "ya fiction", "teen fiction", "teenage",
			"coming of age", "juvenile fiction", "children's fiction",
		}},
	}},
	{Name: "Non-Fiction", SubGenres: []SubGenre{
		{"Biography & Memoir", []string{
			"biography", "autobiography", "memoir", "memoirs", "biographical",
			"life story", "personal narrative", "biography & autobiography",
			"biographies", "personal memoirs",
		}},
		{"History", []string{
			"history", "historical", "ancient history", "world history",
			"military history", "cultural history", "medieval history", "modern history",
			"ancient civilization", "archaeology", "world war", "wars",
			"history, general", "united states history", "european history",
			"indian history", "asian history",
		}},
		{"Science & Technology", []string{
			"science", "physics", "chemistry", "biology", "astronomy",
			"natural science", "earth science", "environmental science",
			"popular science", "mathematics", "math", "maths",
			"technology", "computer science", "programming", "engineering",
			"artificial intelligence", "software", "electronics", "computers",
			"technology & engineering", "science, general",
		}},
		{"Business & Finance", []string{
			"business", "economics", "finance", "management", "entrepreneurship",
			"investing", "marketing", "leadership", "money", "business & economics",
			"success in business", "business success", "commerce",
		}},
		{"Self-Help", []string{
			"self-help", "self help", "personal development", "motivation",
			"self improvement", "self-improvement", "productivity", "success", "habits",
			"self-actualization", "self-culture", "conduct of life", "inspiration",
		}},
		{"Philosophy & Religion", []string{
			"philosophy", "philosophical", "ethics", "logic", "metaphysics",
			"existentialism", "stoicism", "religion", "spirituality", "spiritual",
			"theology", "mysticism", "meditation", "yoga", "mythology",
			"vedanta", "hinduism", "buddhism", "islam", "christianity",
			"religious aspects", "philosophy, general",
		}},
		{"Psychology", []string{
			"psychology", "psychiatry", "mental health", "cognitive science",
			"behavioral science", "psychoanalysis", "neuroscience",
			"psychology, general", "psychological aspects",
		}},
		{"Politics & Society", []string{
			"politics", "political science", "sociology", "social science",
			"current affairs", "government", "international relations",
			"anthropology", "cultural studies", "social life and customs",
			"politics and government",
		}},
		{"Arts & Entertainment", []string{
			"art", "music", "fine arts", "art history", "photography",
			"architecture", "design", "film", "cinema", "performing arts",
			"art instruction", "graphic design", "dance", "fashion",
			"painting", "music theory",
		}},
		{"Health & Wellness", []string{
			"health", "fitness", "medicine", "nutrition", "diet",
			"exercise", "wellness", "medical", "cooking", "cookbooks",
			"mental health", "health & fitness",
		}},
		{"Travel & Culture", []string{
			"travel", "geography", "culture", "tourism", "exploration",
			"travel writing", "voyages and travels",
		}},
		{"Essays & Criticism", []string{
			"essays", "essay", "collected essays", "literary criticism",
			"criticism", "literary essays", "book reviews",
		}},
	}},
	{Name: "Children", SubGenres: []SubGenre{
		{"Picture Books", []string{
			"picture book", "picture books", "baby books", "infancy",
			"bedtime", "bedtime stories", "stories in rhyme",
		}},
		{"Stories", []string{
			"children's fiction", "children's stories", "children's literature",
			"fairy tales", "fables", "juvenile literature", "kids books",
		}},
		{"Educational", []string{
			"children's educational", "educational", "learning",
			"young readers nonfiction", "children's nonfiction", "juvenile nonfiction",
		}},
		{"Young Adult", []string{"young adult", "ya", "teen", "teenage", "young adult fiction", "coming of age"}},
	}},
	{Name: "Comics & Graphic Novels", SubGenres: []SubGenre{
		{"Graphic Novels", []string{
			"graphic novel", "graphic novels", "comics", "comic book",
			"sequential art", "comic books, strips, etc",
		}},
		{"Manga", []string{"manga", "anime", "japanese comics", "manhwa", "manhua"}},
		{"Indian Comics", []string{"indian comics", "amar chitra katha", "panchatantra", "indian mythology comics"}},
		{"Superheroes", []string{"superheroes", "superhero comics", "marvel", "dc comics"}},
	}},
	{Name: "Reference", SubGenres: []SubGenre{
		{"Encyclopedias", []string{"encyclopedia", "encyclopaedia", "encyclopedias", "dictionaries"}},
		{"Textbooks", []string{
			"textbook", "textbooks", "academic", "coursebook", "study guide",
			"educational material", "course material",
		}},
		{"Guides & Handbooks", []string{
			"handbook", "guide", "reference", "manual", "how-to",
			"almanac", "atlas", "dictionary",
		}},
	}},
}

type keyed struct {
	key   string
	class Classification
}

func cls(category, subGenre string) Classification {
	return Classification{Category: category, SubGenre: subGenre}
}

// folderTaxonomy maps shelf folder names to their canonical place. Keys are
// tried in order for partial matches.
var folderTaxonomy = []keyed{
	{"amar chitra katha", cls("Comics & Graphic Novels", "Indian Comics")},
	{"indian comics", cls("Comics & Graphic Novels", "Indian Comics")},
	{"panchatantra", cls("Comics & Graphic Novels", "Indian Comics")},
	{"comics", cls("Comics & Graphic Novels", "Graphic Novels")},
	{"graphic novels", cls("Comics & Graphic Novels", "Graphic Novels")},
	{"manga", cls("Comics & Graphic Novels", "Manga")},
	{"historic rare", cls("Non-Fiction", "History")},
	{"history", cls("Non-Fiction", "History")},
	{"indian history", cls("Non-Fiction", "History")},
	{"j krishnamurthi", cls("Non-Fiction", "Philosophy & Religion")},
	{"j krishnamurti", cls("Non-Fiction", "Philosophy & Religion")},
	{"ayn rand", cls("Non-Fiction", "Philosophy & Religion")},
	{"philosophy", cls("Non-Fiction", "Philosophy & Religion")},
	{"osho", cls("Non-Fiction", "Philosophy & Religion")},
	{"spirituality", cls("Non-Fiction", "Philosophy & Religion")},
	{"vedanta", cls("Non-Fiction", "Philosophy & Religion")},
	{"religion", cls("Non-Fiction", "Philosophy & Religion")},
	{"tell me why", cls("Children", "Educational")},
	{"how it works", cls("Non-Fiction", "Science & Technology")},
	{"kids", cls("Children", "Stories")},
	{"children", cls("Children", "Stories")},
	{"science", cls("Non-Fiction", "Science & Technology")},
	{"programming", cls("Non-Fiction", "Science & Technology")},
	{"technology", cls("Non-Fiction", "Science & Technology")},
	{"vedic maths", cls("Non-Fiction", "Science & Technology")},
	{"vedic math", cls("Non-Fiction", "Science & Technology")},
	{"fiction", cls("Fiction", "Literary")},
	{"novels", cls("Fiction", "Literary")},
	{"sci-fi", cls("Fiction", "Science Fiction")},
	{"science fiction", cls("Fiction", "Science Fiction")},
	{"fantasy", cls("Fiction", "Fantasy")},
	{"mystery", cls("Fiction", "Mystery & Thriller")},
	{"thriller", cls("Fiction", "Mystery & Thriller")},
	{"crime", cls("Fiction", "Mystery & Thriller")},
	{"romance", cls("Fiction", "Romance")},
	{"horror", cls("Fiction", "Horror")},
	{"adventure", cls("Fiction", "Adventure")},
	{"poetry", cls("Fiction", "Poetry")},
	{"biography", cls("Non-Fiction", "Biography & Memoir")},
	{"biographies", cls("Non-Fiction", "Biography & Memoir")},
	{"autobiography", cls("Non-Fiction", "Biography & Memoir")},
	{"business", cls("Non-Fiction", "Business & Finance")},
	{"finance", cls("Non-Fiction", "Business & Finance")},
	{"self-help", cls("Non-Fiction", "Self-Help")},
	{"self help", cls("Non-Fiction", "Self-Help")},
	{"art", cls("Non-Fiction", "Arts & Entertainment")},
	{"music", cls("Non-Fiction", "Arts & Entertainment")},
	{"textbooks", cls("Reference", "Textbooks")},
	{"encyclopedia", cls("Reference", "Encyclopedias")},
}

// titleKeywords are phrases in a title that hint at a category.
var titleKeywords = []struct {
	class    Classification
	keywords []string
}{
	{cls("Fiction", "Science Fiction"), []string{"sci-fi", "starship", "alien invasion", "space station"}},
	{cls("Fiction", "Fantasy"), []string{"sword and sorcery", "epic fantasy", "dark lord"}},
	{cls("Fiction", "Mystery & Thriller"), []string{"murder mystery", "detective story", "whodunit"}},
	{cls("Fiction", "Horror"), []string{"horror stories", "haunted house", "supernatural horror"}},
	{cls("Non-Fiction", "History"), []string{"world history", "ancient history", "military history"}},
	{cls("Non-Fiction", "Biography & Memoir"), []string{"biography of", "life of", "autobiography of"}},
	{cls("Non-Fiction", "Philosophy & Religion"), []string{"philosophy of", "ethics of"}},
	{cls("Non-Fiction", "Science & Technology"), []string{"introduction to physics", "chemistry basics"}},
	{cls("Non-Fiction", "Self-Help"), []string{"how to succeed", "self improvement"}},
	{cls("Non-Fiction", "Business & Finance"), []string{"business strategy", "financial planning"}},
	{cls("Children", "Educational"), []string{"tell me why", "how it works", "for kids"}},
	{cls("Comics & Graphic Novels", "Indian Comics"), []string{"amar chitra katha", "panchatantra tales"}},
}

// genreBlacklist rejects values that are metadata noise rather than genres.
var genreBlacklist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^https?`),
	regexp.MustCompile(`(?i)^www\.`),
	regexp.MustCompile(`(?i)archive\.org`),
	regexp.MustCompile(`^IndirectObject`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^.{1,2}$`),
	regexp.MustCompile(` -- `),
}

const maxGenreLength = 50

var nonFiction = regexp.MustCompile(`non-?fiction`)

// ClassifyGenre maps one declared genre string onto the taxonomy. Aliases
// longer than four characters also match when contained in a compound
// genre such as "Fiction / Epic Fantasy".
func ClassifyGenre(raw string) (Classification, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || utf8.RuneCountInString(raw) > maxGenreLength {
		return Classification{}, false
	}
	for _, re := range genreBlacklist {
		if re.MatchString(raw) {
			return Classification{}, false
		}
	}
	lower := strings.ToLower(raw)
	// "nonfiction" must not partially match the fiction aliases.
	partial := nonFiction.ReplaceAllString(lower, " ")
	for _, cat := range Taxonomy {
		for _, sub := range cat.SubGenres {
			if lower == strings.ToLower(sub.Name) {
				return cls(cat.Name, sub.Name), true
			}
			for _, alias := range sub.Aliases {
				if lower == alias {
					return cls(cat.Name, sub.Name), true
				}
				if utf8.RuneCountInString(alias) > 4 && strings.Contains(partial, alias) {
					return cls(cat.Name, sub.Name), true
				}
			}
		}
	}
	switch {
	case nonFiction.MatchString(lower):
		return cls("Non-Fiction", OtherSubGenre), true
	case strings.Contains(lower, "fiction") && !strings.Contains(lower, "non"):
		return cls("Fiction", OtherSubGenre), true
	}
	return Classification{}, false
}

// ClassifyGenres tries each declared genre in order. A single string may
// hold several genres separated by commas, semicolons or slashes; the whole
// string is tried before its parts.
func ClassifyGenres(genres ...string) (Classification, bool) {
	for _, g := range genres {
		if c, ok := ClassifyGenre(g); ok {
			return c, true
		}
		parts := strings.FieldsFunc(g, func(r rune) bool { return r == ';' || r == ',' || r == '/' || r == '|' })
		if len(parts) < 2 {
			continue
		}
		for _, p := range parts {
			if c, ok := ClassifyGenre(p); ok {
				return c, true
			}
		}
	}
	return Classification{}, false
}

// ClassifyFolder looks at the folders containing p, nearest first, for a
// known shelf name.
func ClassifyFolder(p string) (Classification, bool) {
	parts := strings.Split(strings.ReplaceAll(p, "\\", "/"), "/")
	if len(parts) < 2 {
		return Classification{}, false
	}
	dirs := parts[:len(parts)-1]
	for i := len(dirs) - 1; i >= 0; i-- {
		name := strings.ToLower(strings.TrimSpace(dirs[i]))
		if name == "" {
			continue
		}
		for _, f := range folderTaxonomy {
			if name == f.key {
				return f.class, true
			}
		}
		for _, f := range folderTaxonomy {
			if strings.Contains(name, f.key) {
				return f.class, true
			}
		}
	}
	return Classification{}, false
}

// ClassifyTitle matches hint phrases in a title or file name.
func ClassifyTitle(title string) (Classification, bool) {
	lower := strings.ToLower(title)
	if lower == "" {
		return Classification{}, false
	}
	for _, tk := range titleKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				return tk.class, true
			}
		}
	}
	return Classification{}, false
}

// ClassifyText scans free text such as a description for whole-phrase
// aliases. Only aliases longer than four characters count, so short words
// like "art" or "love" in prose do not decide the shelf.
func ClassifyText(text string) (Classification, bool) {
	padded := " " + wordsOnly(text) + " "
	if strings.TrimSpace(padded) == "" {
		return Classification{}, false
	}
	if c, ok := ClassifyTitle(text); ok {
		return c, true
	}
	for _, cat := range Taxonomy {
		for _, sub := range cat.SubGenres {
			for _, alias := range sub.Aliases {
				if utf8.RuneCountInString(alias) <= 4 {
					continue
				}
				if strings.Contains(padded, " "+wordsOnly(alias)+" ") {
					return cls(cat.Name, sub.Name), true
				}
			}
		}
	}
	return Classification{}, false
}

// wordsOnly lowercases s and keeps letters, digits, apostrophes and hyphens
// separated by single spaces.
func wordsOnly(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

var (
	genericSubjects = map[string]bool{
		"fiction": true, "nonfiction": true, "non-fiction": true,
		"book": true, "books": true, "history": true,
	}
	subjectCategoryPriority = map[string]int{
		"Non-Fiction":             1,
		"Fiction":                 2,
		"Children":                3,
		"Comics & Graphic Novels": 4,
		"Reference":               5,
	}
)

// ClassifySubjects maps Open Library subject headings onto the taxonomy.
// Biography wins outright, then BISAC style "FICTION / ..." headings, then
// genre words, then the alias table with non-fiction preferred.
func ClassifySubjects(subjects []string) (Classification, bool) {
	if len(subjects) == 0 {
		return Classification{}, false
	}
	joined := strings.ToUpper(strings.Join(subjects, " | "))
	if strings.Contains(joined, "BIOGRAPHY") {
		return cls("Non-Fiction", "Biography & Memoir"), true
	}

	for _, s := range subjects {
		if c, ok := classifyBISAC(s); ok {
			return c, true
		}
	}

	for _, s := range subjects {
		lower := strings.ToLower(strings.TrimSpace(s))
		if len(lower) < 4 || genericSubjects[lower] {
			continue
		}
		switch {
		case strings.Contains(lower, "fantasy"):
			return cls("Fiction", "Fantasy"), true
		case strings.Contains(lower, "science fiction"), strings.Contains(lower, "sci-fi"):
			return cls("Fiction", "Science Fiction"), true
		case strings.Contains(lower, "mystery"), strings.Contains(lower, "detective"),
			strings.Contains(lower, "thriller"), strings.Contains(lower, "suspense"):
			return cls("Fiction", "Mystery & Thriller"), true
		case strings.Contains(lower, "horror"):
			return cls("Fiction", "Horror"), true
		case strings.Contains(lower, "romance"):
			return cls("Fiction", "Romance"), true
		case strings.Contains(lower, "programming"), strings.Contains(lower, "computer"),
			strings.Contains(lower, "mathematics"), strings.Contains(lower, "physics"):
			return cls("Non-Fiction", "Science & Technology"), true
		}
	}

	best, bestPriority := Classification{}, 999
	for _, s := range subjects {
		lower := strings.ToLower(strings.TrimSpace(s))
		if len(lower) < 4 || genericSubjects[lower] {
			continue
		}
		for _, cat := range Taxonomy {
			priority, ok := subjectCategoryPriority[cat.Name]
			if !ok {
				priority = 10
			}
			if priority >= bestPriority {
				continue
			}
			for _, sub := range cat.SubGenres {
				if subjectMatches(lower, sub) {
					best, bestPriority = cls(cat.Name, sub.Name), priority
					break
				}
			}
		}
	}
	return best, !best.IsZero()
}

func subjectMatches(lower string, sub SubGenre) bool {
	if lower == strings.ToLower(sub.Name) {
		return true
	}
	for _, alias := range sub.Aliases {
		if strings.Contains(lower, alias) || strings.Contains(alias, lower) {
			return true
		}
	}
	return false
}

func classifyBISAC(subject string) (Classification, bool) {
	upper := strings.ToUpper(subject)
	if strings.Contains(upper, "FICTION /") {
		switch {
		case strings.Contains(upper, "FANTASY"):
			return cls("Fiction", "Fantasy"), true
		case strings.Contains(upper, "SCIENCE FICTION"):
			return cls("Fiction", "Science Fiction"), true
		case strings.Contains(upper, "MYSTERY"), strings.Contains(upper, "THRILLER"):
			return cls("Fiction", "Mystery & Thriller"), true
		case strings.Contains(upper, "HORROR"):
			return cls("Fiction", "Horror"), true
		case strings.Contains(upper, "ROMANCE"):
			return cls("Fiction", "Romance"), true
		case strings.Contains(upper, "HISTORICAL"):
			return cls("Fiction", "Historical Fiction"), true
		}
		return cls("Fiction", "Literary"), true
	}
	switch {
	case strings.Contains(upper, "SELF-HELP"):
		return cls("Non-Fiction", "Self-Help"), true
	case strings.Contains(upper, "BUSINESS & ECONOMICS"):
		return cls("Non-Fiction", "Business & Finance"), true
	case strings.Contains(upper, "TECHNOLOGY & ENGINEERING"):
		return cls("Non-Fiction", "Science & Technology"), true
	case (strings.Contains(upper, "HISTORY /") || strings.HasPrefix(upper, "HISTORY")) && len(subject) > 10:
		return cls("Non-Fiction", "History"), true
	case strings.Contains(upper, "PSYCHOLOGY"):
		return cls("Non-Fiction", "Psychology"), true
	case strings.Contains(upper, "RELIGION"), strings.Contains(upper, "PHILOSOPHY"):
		return cls("Non-Fiction", "Philosophy & Religion"), true
	case strings.Contains(upper, "HEALTH"), strings.Contains(upper, "FITNESS"),
		strings.Contains(upper, "COOKING"), strings.Contains(upper, "COOKBOOK"):
		return cls("Non-Fiction", "Health & Wellness"), true
	}
	return Classification{}, false
}
