// Package templates registers the Handlebars helpers available in eval
// files: random data, timestamps, faker fields and small string utilities.
package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphabeticChars   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numericChars      = "0123456789"
	hexChars          = "0123456789abcdef"
)

var registerOnce sync.Once

// RegisterHelpers installs the helpers into raymond's global registry. Safe
// to call more than once.
func RegisterHelpers() {
	registerOnce.Do(registerHelpers)
}

func registerHelpers() {
	raymond.RegisterHelper("randomValue", func(options *raymond.Options) string {
		randomType := strings.ToUpper(options.HashStr("type"))
		if randomType == "UUID" {
			return uuid.New().String()
		}

		length := 10
		if v := options.HashProp("length"); v != nil {
			if n := toInt(v); n > 0 {
				length = n
			}
		}

		var result string
		switch randomType {
		case "ALPHABETIC":
			result = randomString(alphabeticChars, length)
		case "NUMERIC":
			result = randomString(numericChars, length)
		case "HEXADECIMAL":
			result = randomString(hexChars, length)
		default:
			result = randomString(alphanumericChars, length)
		}

		if raymond.IsTrue(options.HashProp("uppercase")) {
			result = strings.ToUpper(result)
		}
		return result
	})

	raymond.RegisterHelper("randomInt", func(options *raymond.Options) string {
		lower, upper := 0, 100
		if v := options.HashProp("lower"); v != nil {
			lower = toInt(v)
		}
		if v := options.HashProp("upper"); v != nil {
			upper = toInt(v)
		}
		if lower > upper {
			lower, upper = upper, lower
		}

		num, err := rand.Int(rand.Reader, big.NewInt(int64(upper-lower+1)))
		if err != nil {
			return "0"
		}
		return strconv.Itoa(int(num.Int64()) + lower)
	})

	raymond.RegisterHelper("now", func(options *raymond.Options) string {
		now := time.Now().UTC()

		if offsetStr := options.HashStr("offset"); offsetStr != "" {
			if offset, err := ParseOffset(offsetStr); err == nil {
				now = now.Add(offset)
			}
		}
		if tzStr := options.HashStr("timezone"); tzStr != "" {
			if loc, err := time.LoadLocation(tzStr); err == nil {
				now = now.In(loc)
			}
		}

		switch format := options.HashStr("format"); format {
		case "epoch":
			return strconv.FormatInt(now.UnixMilli(), 10)
		case "unix":
			return strconv.FormatInt(now.Unix(), 10)
		case "":
			return now.Format(time.RFC3339)
		default:
			// Go reference layout
			return now.Format(format)
		}
	})

	raymond.RegisterHelper("faker", func(key string) string {
		return fakerValue(key)
	})

	raymond.RegisterHelper("replace", func(value any, old any, newVal any, options *raymond.Options) raymond.SafeString {
		content := raymond.Str(value)
		oldStr := raymond.Str(old)
		if content == "" || oldStr == "" {
			return raymond.SafeString(content)
		}
		return raymond.SafeString(strings.ReplaceAll(content, oldStr, raymond.Str(newVal)))
	})

	raymond.RegisterHelper("substring", func(value any, options *raymond.Options) raymond.SafeString {
		content := raymond.Str(value)
		length := len(content)
		if length == 0 {
			return ""
		}

		start := 0
		if v := options.HashProp("start"); v != nil {
			start = toInt(v)
		}
		end := length
		if v := options.HashProp("end"); v != nil {
			end = toInt(v)
		}

		if start < 0 {
			start = 0
		}
		if start > length {
			start = length
		}
		if end < start {
			end = start
		}
		if end > length {
			end = length
		}
		return raymond.SafeString(content[start:end])
	})
}

// fakerValue resolves "Category.field" keys against gofakeit.
func fakerValue(key string) string {
	r := gofakeit.New(0)

	category, sub, _ := strings.Cut(key, ".")
	switch category {
	case "Name":
		switch sub {
		case "first_name":
			return r.FirstName()
		case "last_name":
			return r.LastName()
		case "full_name":
			return r.Name()
		}
	case "Address":
		switch sub {
		case "street":
			return r.Street()
		case "city":
			return r.City()
		case "state":
			return r.State()
		case "country":
			return r.Country()
		case "postcode":
			return r.Zip()
		}
	case "Phone":
		switch sub {
		case "number":
			return r.Phone()
		case "number_formatted":
			return r.PhoneFormatted()
		}
	case "Internet":
		switch sub {
		case "email":
			return r.Email()
		case "username":
			return r.Username()
		case "url":
			return r.URL()
		case "ipv4":
			return r.IPv4Address()
		}
	case "Company":
		switch sub {
		case "name":
			return r.Company()
		case "profession":
			return r.JobTitle()
		}
	case "Lorem":
		switch sub {
		case "word":
			return r.Word()
		case "sentence":
			return r.Sentence(5)
		case "paragraph":
			return r.Paragraph(1, 3, 5, " ")
		}
	case "Misc":
		switch sub {
		case "uuid":
			return r.UUID()
		case "boolean":
			return strconv.FormatBool(r.Bool())
		case "date":
			return r.Date().Format("2006-01-02")
		}
	}
	return ""
}

func randomString(charset string, length int) string {
	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return ""
		}
		result[i] = charset[num.Int64()]
	}
	return string(result)
}

func toInt(val any) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// ParseOffset parses offsets like "3 days", "-24 seconds", "1 year".
func ParseOffset(offset string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(offset))
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid offset format")
	}

	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}

	unit := strings.TrimSuffix(strings.ToLower(parts[1]), "s")
	switch unit {
	case "second":
		return time.Duration(value) * time.Second, nil
	case "minute":
		return time.Duration(value) * time.Minute, nil
	case "hour":
		return time.Duration(value) * time.Hour, nil
	case "day":
		return time.Duration(value) * 24 * time.Hour, nil
	case "week":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case "month":
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case "year":
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
}
