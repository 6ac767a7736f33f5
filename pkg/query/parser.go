package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"datacat/pkg/dcerr"
	"datacat/pkg/model"
)

// 语法：
//
//	expr    := and { ("or" | "||") and }
//	and     := term { ("and" | "&&") term }
//	term    := "(" expr ")" | operand op operand
//	operand := ident | string | number | ts"RFC3339" | "[" operand { "," operand } "]"
//
// 标识符允许点号 (插件字段 namespace.column)。

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokTime
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// 关键字和符号运算符到 Op 的映射
var opWords = map[string]Op{
	"and": OpAnd, "&&": OpAnd,
	"or": OpOr, "||": OpOr,
	"==": OpEq, "=": OpEq, "eq": OpEq,
	"!=": OpNe, "<>": OpNe, "ne": OpNe,
	"<": OpLt, "lt": OpLt,
	"<=": OpLe, "le": OpLe,
	">": OpGt, "gt": OpGt,
	">=": OpGe, "ge": OpGe,
	"=~": OpLike, "like": OpLike,
	"!~": OpNotLike,
	"matches": OpMatches,
	"in": OpIn,
}

func syntaxError(pos int, format string, args ...any) error {
	return dcerr.InvalidRequest.New("syntax error at offset %d: %s", pos, fmt.Sprintf(format, args...))
}

func lex(input string) ([]token, error) {
	var toks []token
	rs := []rune(input)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == '[':
			toks = append(toks, token{tokLBracket, "[", i})
			i++
		case r == ']':
			toks = append(toks, token{tokRBracket, "]", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++

		case r == '"' || r == '\'':
			s, next, err := quoted(rs, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, s, i})
			i = next

		case r == 't' && i+2 < len(rs) && rs[i+1] == 's' && (rs[i+2] == '"' || rs[i+2] == '\''):
			s, next, err := quoted(rs, i+2)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokTime, s, i})
			i = next

		case unicode.IsDigit(r) || (r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			i++
			for i < len(rs) && (unicode.IsDigit(rs[i]) || strings.ContainsRune(".eE+-", rs[i])) {
				// 只有紧跟在 e/E 后面的符号属于数字
				if (rs[i] == '+' || rs[i] == '-') && rs[i-1] != 'e' && rs[i-1] != 'E' {
					break
				}
				i++
			}
			toks = append(toks, token{tokNumber, string(rs[start:i]), start})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '.') {
				i++
			}
			word := string(rs[start:i])
			if _, ok := opWords[strings.ToLower(word)]; ok {
				toks = append(toks, token{tokOp, strings.ToLower(word), start})
			} else if strings.EqualFold(word, "not") {
				toks = append(toks, token{tokOp, "not", start})
			} else {
				toks = append(toks, token{tokIdent, word, start})
			}

		default:
			start := i
			for i < len(rs) && strings.ContainsRune("=!<>~&|", rs[i]) {
				i++
			}
			sym := string(rs[start:i])
			if _, ok := opWords[sym]; !ok {
				if sym == "" {
					sym = string(r)
				}
				return nil, syntaxError(start, "unexpected %q", sym)
			}
			toks = append(toks, token{tokOp, sym, start})
		}
	}
	return append(toks, token{tokEOF, "", len(rs)}), nil
}

// quoted 读取从 rs[i] 开始的引号字符串，支持反斜杠转义
func quoted(rs []rune, i int) (string, int, error) {
	quote := rs[i]
	var b strings.Builder
	for j := i + 1; j < len(rs); j++ {
		switch rs[j] {
		case '\\':
			if j+1 < len(rs) {
				j++
				b.WriteRune(rs[j])
			}
		case quote:
			return b.String(), j + 1, nil
		default:
			b.WriteRune(rs[j])
		}
	}
	return "", 0, syntaxError(i, "unterminated string")
}

type parser struct {
	toks []token
	pos  int
}

// Parse 把文本表达式解析成语法树
func Parse(input string) (*Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, dcerr.InvalidRequest.New("empty query")
	}
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, syntaxError(t.pos, "unexpected %q", t.text)
	}
	return root, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) logical(op Op, operand func() (*Node, error)) (*Node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || opWords[t.text] != op {
			return left, nil
		}
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = Binary(op, left, right)
	}
}

func (p *parser) or() (*Node, error) {
	return p.logical(OpOr, p.and)
}

func (p *parser) and() (*Node, error) {
	return p.logical(OpAnd, p.term)
}

func (p *parser) term() (*Node, error) {
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, syntaxError(t.pos, "expected ')'")
		}
		return inner, nil
	}

	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	op, err := p.comparison()
	if err != nil {
		return nil, err
	}
	right, err := p.operand()
	if err != nil {
		return nil, err
	}
	return Binary(op, left, right), nil
}

func (p *parser) comparison() (Op, error) {
	t := p.next()
	if t.kind != tokOp {
		return "", syntaxError(t.pos, "expected operator, found %q", t.text)
	}
	if t.text == "not" {
		if n := p.next(); n.kind != tokOp || n.text != "in" {
			return "", syntaxError(n.pos, "expected 'in' after 'not'")
		}
		return OpNotIn, nil
	}
	op := opWords[t.text]
	if op.IsLogical() {
		return "", syntaxError(t.pos, "expected comparison, found %q", t.text)
	}
	return op, nil
}

func (p *parser) operand() (*Node, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return Ident(t.text), nil
	case tokLBracket:
		return p.list(t)
	default:
		v, err := literal(t)
		if err != nil {
			return nil, err
		}
		return Literal(v), nil
	}
}

func (p *parser) list(open token) (*Node, error) {
	var items []model.Value
	for {
		t := p.next()
		if t.kind == tokRBracket && len(items) == 0 {
			return nil, syntaxError(open.pos, "empty list")
		}
		v, err := literal(t)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 && !sameKind(items[0].Kind, v.Kind) {
			return nil, syntaxError(t.pos, "list mixes %s and %s", items[0].Kind, v.Kind)
		}
		items = append(items, v)

		switch sep := p.next(); sep.kind {
		case tokComma:
		case tokRBracket:
			return Literal(model.List(items...)), nil
		default:
			return nil, syntaxError(sep.pos, "expected ',' or ']'")
		}
	}
}

// sameKind 整数和小数可以混在一个列表里
func sameKind(a, b model.Kind) bool {
	return a == b || (a.IsNumber() && b.IsNumber())
}

func literal(t token) (model.Value, error) {
	switch t.kind {
	case tokString:
		return model.Text(t.text), nil
	case tokNumber:
		if !strings.ContainsAny(t.text, ".eE") {
			if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
				return model.Integer(i), nil
			}
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return model.Value{}, syntaxError(t.pos, "bad number %q", t.text)
		}
		return model.Decimal(f), nil
	case tokTime:
		ts, err := time.Parse(time.RFC3339Nano, t.text)
		if err != nil {
			return model.Value{}, syntaxError(t.pos, "bad timestamp %q", t.text)
		}
		return model.Timestamp(ts), nil
	case tokEOF:
		return model.Value{}, syntaxError(t.pos, "unexpected end of query")
	default:
		return model.Value{}, syntaxError(t.pos, "expected value, found %q", t.text)
	}
}
