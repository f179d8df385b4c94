package axdr

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var printerNames = map[Tag]string{
	TagNull:               "Null",
	TagArray:              "Array",
	TagStructure:          "Structure",
	TagBoolean:            "Boolean",
	TagBitString:          "BitString",
	TagDoubleLong:         "Integer32",
	TagDoubleLongUnsigned: "Unsigned32",
	TagFloatingPoint:      "FloatingPoint",
	TagOctetString:        "OctetString",
	TagVisibleString:      "VisibleString",
	TagUTF8String:         "UTF8String",
	TagBCD:                "BCD",
	TagInteger:            "Integer8",
	TagLong:               "Integer16",
	TagUnsigned:           "Unsigned8",
	TagLongUnsigned:       "Unsigned16",
	TagLong64:             "Integer64",
	TagLong64Unsigned:     "Unsigned64",
	TagEnum:               "Enum",
	TagFloat32:            "Float32",
	TagFloat64:            "Float64",
	TagDateTime:           "DateTime",
	TagDate:               "Date",
	TagTime:               "Time",
}

// Printer renders decoded values as the XML dump written per object by the client tool.
// The zero value is ready to use; a Printer is not safe for concurrent use.
type Printer struct {
	sb strings.Builder
}

// Start drops anything printed before and opens the root element.
func (p *Printer) Start(object string) {
	p.sb.Reset()
	p.sb.WriteString(`<Root Object="`)
	p.escape(object)
	p.sb.WriteString("\">\n")
}

func (p *Printer) End() {
	p.sb.WriteString("</Root>\n")
}

// Append prints one top level value.
func (p *Printer) Append(d *Data) {
	p.value(d, 0)
}

func (p *Printer) String() string {
	return p.sb.String()
}

func (p *Printer) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, p.sb.String())
	return int64(n), err
}

func (p *Printer) escape(s string) {
	_ = xml.EscapeText(&p.sb, []byte(s))
}

func (p *Printer) indent(level int) {
	for i := 0; i < level; i++ {
		p.sb.WriteString("    ")
	}
}

func (p *Printer) value(d *Data, level int) {
	name, ok := printerNames[d.Tag]
	if !ok {
		name = "Unknown"
	}
	p.indent(level)
	if items, ok := d.Value.([]Data); ok && (d.Tag == TagArray || d.Tag == TagStructure) {
		fmt.Fprintf(&p.sb, "<%s size=\"%d\">\n", name, len(items))
		for i := range items {
			p.value(&items[i], level+1)
		}
		p.indent(level)
		fmt.Fprintf(&p.sb, "</%s>\n", name)
		return
	}
	value, hint := leaf(d)
	p.sb.WriteString("<" + name + ` value="`)
	p.escape(value)
	if hint != "" {
		p.sb.WriteString(`" hint="`)
		p.escape(hint)
	}
	p.sb.WriteString("\" />\n")
}

func leaf(d *Data) (value string, hint string) {
	switch v := d.Value.(type) {
	case nil:
		return "null", ""
	case bool:
		return strconv.FormatBool(v), ""
	case []bool:
		var sb strings.Builder
		for _, b := range v {
			if b {
				sb.WriteString("1;")
			} else {
				sb.WriteString("0;")
			}
		}
		return sb.String(), ""
	case []byte:
		var sb strings.Builder
		for _, b := range v {
			sb.WriteString(strconv.Itoa(int(b)))
			sb.WriteByte(';')
		}
		switch len(v) {
		case 6:
			hint = fmt.Sprintf("OBIS(%X)", v)
		case DateTimeSize:
			dt, _ := DateTimeFromBytes(v)
			hint = "DateTime(" + dt.String() + ")"
		default:
			hint = fmt.Sprintf("(%X)", v)
		}
		return sb.String(), hint
	case string:
		return v, ""
	case uint8:
		return strconv.Itoa(int(v)), "(" + UnitName(v) + ")"
	case int8:
		if d.Tag == TagBCD {
			return strconv.Itoa(int(v)), "(" + UnitName(byte(v)) + ")"
		}
		return strconv.Itoa(int(v)), ""
	case DateTime:
		return v.String(), ""
	case Date:
		return fmt.Sprintf("%d-%d-%d", v.Year, v.Month, v.Day), ""
	case Time:
		return fmt.Sprintf("%d:%d:%d", v.Hour, v.Minute, v.Second), ""
	}
	return fmt.Sprint(d.Value), ""
}
