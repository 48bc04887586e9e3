// Package wager drives a turn-based betting exchange with an external
// automated responder, parsing its textual replies to decide the next move.
package wager

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/you/gnasty-mod/internal/core"
)

// Kind classifies a responder reply.
type Kind int

const (
	Unrelated Kind = iota
	Win
	WinAllIn
	Loss
	LossAllIn
	OutOfFunds
)

// Result is one parsed reply. Amount is positive for wins and negative for
// losses; zero for Unrelated and OutOfFunds.
type Result struct {
	Kind   Kind
	Amount int64
}

var firstIntRe = regexp.MustCompile(`\d+`)

// Parser recognizes the responder's reply preambles. Replies from any other
// identity, and responder lines matching no known preamble, are Unrelated.
type Parser struct {
	responder string

	winPre     string
	winAllPre  string
	lossPre    string
	lossAllPre string
	brokeMark  string
}

// NewParser builds a parser for replies addressed to ownName coming from the
// responder identity. The preambles are the responder's wire format and must
// be preserved exactly.
func NewParser(ownName, responder string) *Parser {
	return &Parser{
		responder:  responder,
		winPre:     "\x01ACTION " + ownName + " won ",
		winAllPre:  "\x01ACTION PogChamp " + ownName + " went all in and won ",
		lossPre:    "\x01ACTION " + ownName + " gambled ",
		lossAllPre: "\x01ACTION " + ownName + " went all in and lost every single on of their ",
		brokeMark:  "@" + ownName + ", you only have ",
	}
}

// Parse maps a chat event to a wager result. The magnitude is the first
// embedded integer after the preamble.
func (p *Parser) Parse(ev core.ChatEvent) Result {
	if !strings.EqualFold(ev.Subject.Name, p.responder) {
		return Result{Kind: Unrelated}
	}
	text := ev.Text

	switch {
	case strings.HasPrefix(text, p.winAllPre):
		return amount(WinAllIn, text[len(p.winAllPre):], 1)
	case strings.HasPrefix(text, p.winPre):
		return amount(Win, text[len(p.winPre):], 1)
	case strings.HasPrefix(text, p.lossAllPre):
		return amount(LossAllIn, text[len(p.lossAllPre):], -1)
	case strings.HasPrefix(text, p.lossPre):
		return amount(Loss, text[len(p.lossPre):], -1)
	case strings.Contains(text, p.brokeMark):
		return Result{Kind: OutOfFunds}
	}
	return Result{Kind: Unrelated}
}

func amount(kind Kind, rest string, sign int64) Result {
	digits := firstIntRe.FindString(rest)
	if digits == "" {
		return Result{Kind: Unrelated}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Result{Kind: Unrelated}
	}
	return Result{Kind: kind, Amount: sign * n}
}
