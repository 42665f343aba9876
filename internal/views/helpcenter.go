package views

import (
	"errors"
	"strings"

	"github.com/taleforge/supportsync/internal/syncengine"
)

// HelpCenterSubjectPrefix prefixes the subject of help-center conversations.
const HelpCenterSubjectPrefix = "Help center: "

// HelpCenter is the chat embedded in a help-center article. Questions go
// to the AI assistant unless the user turns it off with /ai off.
type HelpCenter struct {
	*Widget
	article string
}

// NewHelpCenter wraps a user-role engine for article.
func NewHelpCenter(eng *syncengine.Engine, article string) (*HelpCenter, error) {
	article = strings.TrimSpace(article)
	if article == "" {
		return nil, errors.New("help center chat needs an article")
	}
	w, err := NewWidget(eng, WidgetOptions{Subject: HelpCenterSubjectPrefix + article, AskAI: true})
	if err != nil {
		return nil, err
	}
	return &HelpCenter{Widget: w, article: article}, nil
}

// Article returns the article the chat belongs to.
func (h *HelpCenter) Article() string { return h.article }
