package provider

import (
	"bufio"
	"fmt"
	"strings"
)

// EncodeVCF renders contacts as a vCard 3.0 stream.
func EncodeVCF(contacts []Contact) string {
	var b strings.Builder
	for _, c := range contacts {
		b.WriteString("BEGIN:VCARD\r\n")
		b.WriteString("VERSION:3.0\r\n")
		fmt.Fprintf(&b, "FN:%s\r\n", escapeVCF(c.Name))
		fmt.Fprintf(&b, "N:%s;;;;\r\n", escapeVCF(c.Name))
		for _, p := range c.Phones {
			if p.Label != "" {
				fmt.Fprintf(&b, "TEL;TYPE=%s:%s\r\n", strings.ToUpper(p.Label), p.Value)
			} else {
				fmt.Fprintf(&b, "TEL:%s\r\n", p.Value)
			}
		}
		for _, e := range c.Emails {
			if e.Label != "" {
				fmt.Fprintf(&b, "EMAIL;TYPE=%s:%s\r\n", strings.ToUpper(e.Label), e.Value)
			} else {
				fmt.Fprintf(&b, "EMAIL:%s\r\n", e.Value)
			}
		}
		if c.Organization != "" {
			fmt.Fprintf(&b, "ORG:%s\r\n", escapeVCF(c.Organization))
		}
		b.WriteString("END:VCARD\r\n")
	}
	return b.String()
}

// ParseVCF extracts contacts from a vCard stream. Only the FN/N/TEL/EMAIL/ORG
// properties are interpreted; unknown properties are ignored. Blocks without
// any name yield a contact with an empty name, which importers report as a
// per-entry failure.
func ParseVCF(data string) []Contact {
	var out []Contact
	var cur *Contact

	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		upper := strings.ToUpper(line)
		switch {
		case upper == "BEGIN:VCARD":
			cur = &Contact{}
		case upper == "END:VCARD":
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
		case cur == nil:
			// Property outside a block; skip.
		default:
			name, params, value := splitVCFLine(line)
			switch name {
			case "FN":
				cur.Name = unescapeVCF(value)
			case "N":
				if cur.Name == "" {
					cur.Name = strings.TrimSpace(strings.ReplaceAll(unescapeVCF(value), ";", " "))
				}
			case "TEL":
				cur.Phones = append(cur.Phones, LabeledValue{Value: value, Label: vcfType(params)})
			case "EMAIL":
				cur.Emails = append(cur.Emails, LabeledValue{Value: value, Label: vcfType(params)})
			case "ORG":
				cur.Organization = unescapeVCF(strings.TrimSuffix(value, ";"))
			}
		}
	}
	return out
}

// splitVCFLine splits "NAME;PARAM=X:value" into its parts.
func splitVCFLine(line string) (name string, params []string, value string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return strings.ToUpper(line), nil, ""
	}
	value = line[idx+1:]
	head := strings.Split(line[:idx], ";")
	name = strings.ToUpper(head[0])
	params = head[1:]
	return name, params, value
}

func vcfType(params []string) string {
	for _, p := range params {
		if v, ok := strings.CutPrefix(strings.ToUpper(p), "TYPE="); ok {
			return strings.ToLower(v)
		}
	}
	return ""
}

func escapeVCF(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func unescapeVCF(s string) string {
	s = strings.ReplaceAll(s, "\\n", "\n")
	s = strings.ReplaceAll(s, "\\,", ",")
	s = strings.ReplaceAll(s, "\\;", ";")
	s = strings.ReplaceAll(s, "\\\\", "\\")
	return s
}
