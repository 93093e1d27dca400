package translator

import (
	"context"

	"go.uber.org/zap"

	"github.com/immich-geodata/placekit/convert"
)

// Source values recorded on every resolved translation, ordered from most
// to least trusted.
const (
	SourceRemote          = "remote"
	SourceRemoteFallback  = "remote-fallback"
	SourceScriptConverted = "script-converted"
	SourceWikiTitle       = "wiki-title-converted"
	SourceOriginal        = "original"
)

// UsedLangOriginal marks results that fell through to the untranslated name.
const UsedLangOriginal = "original"

// Policy chooses the best human-readable label from a multi-language label
// set. The step order is fixed — exact target language, then the fallback
// chain, then the wiki title, then the original name — because each step is
// strictly more expensive or less reliable than the one before it.
type Policy struct {
	TargetLang    string
	FallbackLangs []string
	// ConvertLangs marks fallback languages whose labels need script
	// conversion (e.g. "zh" when targeting traditional Chinese).
	ConvertLangs map[string]bool
	// Converter performs the script conversion; nil disables it and those
	// fallback labels are used raw.
	Converter convert.Converter
	// WikiSite is the label-map key carrying the wiki article title.
	WikiSite string
	// NormalizeTitle converts a wiki title to the target script variant;
	// nil uses the raw title.
	NormalizeTitle func(ctx context.Context, title string) (string, error)

	Logger *zap.Logger
}

// Selection is the outcome of label resolution.
type Selection struct {
	Text     string
	Source   string
	UsedLang string
}

// Select resolves labels to a display text for an entity, falling back to
// originalName when nothing usable exists.
func (p Policy) Select(ctx context.Context, labels map[string]string, originalName string) Selection {
	if text, ok := labels[p.TargetLang]; ok && text != "" {
		return Selection{Text: text, Source: SourceRemote, UsedLang: p.TargetLang}
	}

	for _, lang := range p.FallbackLangs {
		text, ok := labels[lang]
		if !ok || text == "" {
			continue
		}
		if p.ConvertLangs[lang] && p.Converter != nil {
			converted, err := p.Converter.Convert(text)
			if err == nil {
				return Selection{Text: converted, Source: SourceScriptConverted, UsedLang: lang}
			}
			p.log().Warn("script conversion failed, using raw label",
				zap.String("lang", lang), zap.Error(err))
		}
		return Selection{Text: text, Source: SourceRemoteFallback, UsedLang: lang}
	}

	if title, ok := labels[p.WikiSite]; ok && title != "" && p.WikiSite != "" {
		if p.NormalizeTitle != nil {
			normalized, err := p.NormalizeTitle(ctx, title)
			if err != nil {
				p.log().Warn("title normalization failed, using raw title",
					zap.String("title", title), zap.Error(err))
			} else {
				title = normalized
			}
		}
		return Selection{Text: title, Source: SourceWikiTitle, UsedLang: p.WikiSite}
	}

	return Selection{Text: originalName, Source: SourceOriginal, UsedLang: UsedLangOriginal}
}

func (p Policy) log() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}
