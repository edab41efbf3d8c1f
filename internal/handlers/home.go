package handlers

import (
	"github.com/cdjcoder/Lennox-Local-GHB/internal/chat"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/cms"
	"github.com/cdjcoder/Lennox-Local-GHB/internal/seo"
)

// areasServed names the mailing areas advertised in structured data.
var areasServed = []string{"Lennox, CA 90304", "Hawthorne, CA 90250"}

// HomeData is the view model for the landing page.
type HomeData struct {
	Lang         string
	OtherLang    string
	Title        string
	Description  string
	Meta         seo.Meta
	T            func(string) string
	Sections     []cms.Section
	Chat         chat.View
	CSRFToken    string
	OwnerEmail   string
	ContactPhone string
	Path         string
}

// HomeInput collects what the landing page needs from the request and its collaborators.
type HomeInput struct {
	Lang         chat.Language
	Translate    func(string) string
	Sections     []cms.Section
	Chat         chat.View
	CSRFToken    string
	OwnerEmail   string
	ContactPhone string
	Path         string
}

// BuildHomeData constructs the landing page view model.
func BuildHomeData(in HomeInput) HomeData {
	t := in.Translate
	if t == nil {
		t = func(key string) string { return key }
	}
	other := chat.Spanish
	if in.Lang == chat.Spanish {
		other = chat.English
	}
	langs := make([]string, 0, len(chat.SupportedLanguages))
	for _, l := range chat.SupportedLanguages {
		langs = append(langs, string(l))
	}
	title, description := t("site.title"), t("site.description")
	meta := seo.Meta{
		Title:       title,
		Description: description,
		Canonical:   in.Path,
		Alternates:  seo.Alternates(in.Path, langs, string(chat.English)),
		JSONLD: seo.JSON(seo.LocalBusiness{
			Name:        title,
			Description: description,
			Telephone:   in.ContactPhone,
			Email:       in.OwnerEmail,
			Language:    string(in.Lang),
			AreaServed:  areasServed,
		}.Schema()),
	}
	return HomeData{
		Lang:         string(in.Lang),
		OtherLang:    string(other),
		Title:        title,
		Description:  description,
		Meta:         meta,
		T:            t,
		Sections:     in.Sections,
		Chat:         in.Chat,
		CSRFToken:    in.CSRFToken,
		OwnerEmail:   in.OwnerEmail,
		ContactPhone: in.ContactPhone,
		Path:         in.Path,
	}
}
