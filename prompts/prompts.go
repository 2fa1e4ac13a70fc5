package prompts

import (
	"errors"
	"fmt"
	"os"

	lcprompts "github.com/tmc/langchaingo/prompts"
	"gopkg.in/yaml.v3"
)

// Prompts used by the bot. Keyword and Check are fmt templates, Answer is a Go template
// rendered by the retrieval chain.
type Prompts struct {
	// Keyword takes the user's prompt as its only %s verb.
	Keyword string `yaml:"keyword"`
	// AnswerSuffix is appended to the user's prompt before retrieval.
	AnswerSuffix string `yaml:"answerSuffix"`
	// Answer must reference {{.context}} and {{.question}}.
	Answer string `yaml:"answer"`
	Vision string `yaml:"vision"`
	// Check takes the extracted text and the forbidden text, in that order.
	Check string `yaml:"check"`
}

const defaultKeyword = `次の文から主要なキーワードのみをスペース区切りで抜き出してください。: %s`

const defaultAnswerSuffix = `お客様名から書き始めて、100文字で要約し、最後にリンクをつけてください。`

const defaultAnswer = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{{.context}}

Question: {{.question}}
Helpful Answer:`

const defaultVision = `画像に含まれているテキストを抜き出してください。`

const defaultCheck = `
質問:以下の情報に含まれてはいけないテキストはありますか？回答は回答方法に従って答えてください。
%s
---
含まれてはいけないテキスト
%s
---
出力形式
「含まれている」または「含まれていない」のいずれかでお願いします。
含まれている場合は含まれているテキストを抜き出してください。
`

func Default() Prompts {
	return Prompts{
		Keyword:      defaultKeyword,
		AnswerSuffix: defaultAnswerSuffix,
		Answer:       defaultAnswer,
		Vision:       defaultVision,
		Check:        defaultCheck,
	}
}

// Load reads prompt overrides from a YAML file. Fields that are not set in the file keep
// their default values. An empty name returns the defaults.
func Load(name string) (p Prompts, err error) {
	p = Default()
	if name == "" {
		return p, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return p, fmt.Errorf("prompts: failed to open %s: %w", name, err)
	}
	defer f.Close()
	if err = yaml.NewDecoder(f).Decode(&p); err != nil {
		return p, fmt.Errorf("prompts: failed to decode %s: %w", name, err)
	}
	return p, p.Validate()
}

func (p Prompts) Validate() error {
	var errs []error
	if err := checkVerbs(p.Keyword, 1); err != nil {
		errs = append(errs, fmt.Errorf("prompts: keyword: %w", err))
	}
	if err := checkVerbs(p.Check, 2); err != nil {
		errs = append(errs, fmt.Errorf("prompts: check: %w", err))
	}
	if p.Vision == "" {
		errs = append(errs, errors.New("prompts: vision must not be empty"))
	}
	if _, err := p.AnswerTemplate().Format(map[string]any{"context": "world", "question": "hello"}); err != nil {
		errs = append(errs, fmt.Errorf("prompts: invalid answer template: %w", err))
	}
	return errors.Join(errs...)
}

// checkVerbs returns an error unless format contains exactly n %s verbs. A literal percent
// sign must be written as %%.
func checkVerbs(format string, n int) error {
	var count int
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 == len(format) {
			return errors.New("trailing % must be written as %%")
		}
		i++
		switch format[i] {
		case '%':
		case 's':
			count++
		default:
			return fmt.Errorf("unsupported verb %%%c at offset %d, write a literal percent sign as %%%%", format[i], i-1)
		}
	}
	if count != n {
		return fmt.Errorf("must contain exactly %d %%s, found %d", n, count)
	}
	return nil
}

func (p Prompts) KeywordPrompt(prompt string) string {
	return fmt.Sprintf(p.Keyword, prompt)
}

func (p Prompts) CheckPrompt(extracted, forbidden string) string {
	return fmt.Sprintf(p.Check, extracted, forbidden)
}

func (p Prompts) AnswerTemplate() lcprompts.PromptTemplate {
	return lcprompts.NewPromptTemplate(p.Answer, []string{"context", "question"})
}
