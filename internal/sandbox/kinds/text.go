package kinds

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TopWordsLimit is the number of most frequent words reported.
const TopWordsLimit = 10

const wordPunctuation = `.,!?;:"`

// TextStats is the result of a text_analysis task. Character counts are in
// Unicode code points.
type TextStats struct {
	TotalChars        int        `json:"total_chars"`
	CharsNoSpaces     int        `json:"chars_no_spaces"`
	WordCount         int        `json:"word_count"`
	UniqueWords       int        `json:"unique_words"`
	AverageWordLength float64    `json:"average_word_length"`
	TopWords          WordCounts `json:"top_words"`
}

// WordCount is one entry of the frequency table.
type WordCount struct {
	Word  string
	Count int
}

// WordCounts encodes as a JSON object whose keys keep slice order.
type WordCounts []WordCount

func (wc WordCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range wc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Word)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(e.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// TextAnalysis computes character and word statistics. Words are split on
// whitespace; frequencies are case-folded with surrounding punctuation
// stripped. Equal frequencies keep first-occurrence order.
func TextAnalysis(data json.RawMessage) (any, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	text, ok := v.(string)
	if !ok {
		return nil, invalid("data must be a string")
	}
	return analyzeText(text), nil
}

func analyzeText(text string) TextStats {
	words := strings.Fields(text)
	total := utf8.RuneCountInString(text)

	stats := TextStats{
		TotalChars:    total,
		CharsNoSpaces: total - strings.Count(text, " "),
		WordCount:     len(words),
		TopWords:      WordCounts{},
	}

	index := make(map[string]int)
	var freq WordCounts
	letters := 0
	for _, w := range words {
		letters += utf8.RuneCountInString(w)
		key := strings.Trim(strings.ToLower(w), wordPunctuation)
		if i, seen := index[key]; seen {
			freq[i].Count++
			continue
		}
		index[key] = len(freq)
		freq = append(freq, WordCount{Word: key, Count: 1})
	}

	stats.UniqueWords = len(freq)
	if len(words) > 0 {
		stats.AverageWordLength = float64(letters) / float64(len(words))
	}

	slices.SortStableFunc(freq, func(a, b WordCount) int { return b.Count - a.Count })
	if len(freq) > TopWordsLimit {
		freq = freq[:TopWordsLimit]
	}
	stats.TopWords = append(stats.TopWords, freq...)
	return stats
}
