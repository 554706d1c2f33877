package sources

// builtin is used when no sources file is configured.
var builtin = []Source{
	{
		ID:          "bbc",
		DisplayName: "BBC News",
		Kind:        KindRSS,
		Endpoint:    "http://feeds.bbci.co.uk/news/rss.xml",
		Category:    "general",
	},
	{
		ID:          "reuters",
		DisplayName: "Reuters",
		Kind:        KindRSS,
		Endpoint:    "http://feeds.reuters.com/reuters/topNews",
		Category:    "general",
	},
	{
		ID:          "techcrunch",
		DisplayName: "TechCrunch",
		Kind:        KindRSS,
		Endpoint:    "https://techcrunch.com/feed/",
		Category:    "technology",
	},
	{
		ID:          "oreilly-radar",
		DisplayName: "O'Reilly Radar",
		Kind:        KindRSS,
		Endpoint:    "https://feeds.feedburner.com/oreilly/radar/atom",
		Category:    "technology",
	},
	{
		ID:          "cnn",
		DisplayName: "CNN",
		Kind:        KindRSS,
		Endpoint:    "http://rss.cnn.com/rss/edition.rss",
		Category:    "general",
	},
}

// Builtin returns the default registry.
func Builtin(d Defaults) *Registry {
	r, err := New(builtin, d)
	if err != nil {
		// builtin definitions are static; only bad defaults can break them
		panic(err)
	}
	return r
}
