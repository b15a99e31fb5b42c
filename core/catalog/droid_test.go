package catalog

import (
	"strings"
	"testing"

	"github.com/FocuswithJustin/sigid/core/bytesource"
	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/sequence"
)

const testDROID = `<?xml version="1.0" encoding="UTF-8"?>
<FFSignatureFile xmlns="http://www.nationalarchives.gov.uk/pronom/SignatureFile" Version="97" DateCreated="2020-01-01T00:00:00">
  <InternalSignatureCollection>
    <InternalSignature ID="1" Specificity="Specific">
      <ByteSequence Reference="BOFoffset">
        <SubSequence Position="1" SubSeqMinOffset="0" SubSeqMaxOffset="4">
          <Sequence>4142</Sequence>
          <LeftFragment Position="1" MinOffset="1" MaxOffset="3">5A</LeftFragment>
          <RightFragment Position="1" MinOffset="0" MaxOffset="2">4344</RightFragment>
          <RightFragment Position="2" MinOffset="0" MaxOffset="0">45</RightFragment>
          <RightFragment Position="2" MinOffset="0" MaxOffset="0">4647</RightFragment>
        </SubSequence>
      </ByteSequence>
    </InternalSignature>
    <InternalSignature ID="2" Specificity="Generic">
      <ByteSequence Reference="BOFoffset">
        <SubSequence Position="2" SubSeqMinOffset="26">
          <Sequence>6D696D6574797065</Sequence>
        </SubSequence>
        <SubSequence Position="1" SubSeqMinOffset="0" SubSeqMaxOffset="0">
          <Sequence>504B0304</Sequence>
        </SubSequence>
      </ByteSequence>
    </InternalSignature>
    <InternalSignature ID="3" Specificity="Specific">
      <ByteSequence Reference="EOFoffset">
        <SubSequence Position="1" SubSeqMinOffset="0">
          <Sequence>AA</Sequence>
        </SubSequence>
        <SubSequence Position="2" SubSeqMinOffset="2" SubSeqMaxOffset="4">
          <Sequence>BB</Sequence>
        </SubSequence>
      </ByteSequence>
    </InternalSignature>
    <InternalSignature ID="4" Specificity="Specific">
      <ByteSequence>
        <SubSequence Position="1" SubSeqMinOffset="8">
          <Sequence>CAFE</Sequence>
        </SubSequence>
      </ByteSequence>
    </InternalSignature>
  </InternalSignatureCollection>
  <FileFormatCollection>
    <FileFormat ID="10" Name="Fragmented" PUID="test/1" Version="1" MIMEType="application/x-test">
      <InternalSignatureID>1</InternalSignatureID>
      <Extension>tst</Extension>
      <HasPriorityOverFileFormatID>11</HasPriorityOverFileFormatID>
    </FileFormat>
    <FileFormat ID="11" Name="Zip based" PUID="test/2">
      <InternalSignatureID>2</InternalSignatureID>
      <Extension>zip</Extension>
    </FileFormat>
    <FileFormat ID="12" Name="Trailer" PUID="test/3">
      <InternalSignatureID>3</InternalSignatureID>
    </FileFormat>
    <FileFormat ID="13" Name="Embedded" PUID="test/4">
      <InternalSignatureID>4</InternalSignatureID>
    </FileFormat>
    <FileFormat ID="14" Name="Extension only" PUID="test/5">
      <Extension>ext</Extension>
    </FileFormat>
  </FileFormatCollection>
</FFSignatureFile>
`

func TestDecodeDROID(t *testing.T) {
	def, err := DecodeDROID(strings.NewReader(testDROID), "test.xml")
	if err != nil {
		t.Fatalf("DecodeDROID: %v", err)
	}
	if def.Version != "97" {
		t.Errorf("Version = %q, want 97", def.Version)
	}
	if len(def.Formats) != 5 {
		t.Fatalf("got %d formats, want 5", len(def.Formats))
	}
	f := def.Formats[0]
	if f.PUID != "test/1" || f.MIMEType != "application/x-test" {
		t.Errorf("format 10 = %+v", f)
	}
	if len(f.Extensions) != 1 || f.Extensions[0] != "tst" {
		t.Errorf("Extensions = %v, want [tst]", f.Extensions)
	}
	if len(f.PriorityOver) != 1 || f.PriorityOver[0] != "11" {
		t.Errorf("PriorityOver = %v, want [11]", f.PriorityOver)
	}

	sigs := make(map[string]SignatureDef)
	for _, s := range def.Signatures {
		sigs[s.ID] = s
	}
	tests := []struct {
		id       string
		specific bool
		want     sequence.ByteSequence
	}{
		{"1", true, bof("{0-4}5A{1-3}4142{0-2}4344(45|4647)")},
		{"2", false, bof("504B0304{26-*}6D696D6574797065")},
		{"3", true, eof("AA*BB{2-4}")},
		{"4", true, vary("{8}CAFE")},
	}
	for _, tt := range tests {
		t.Run("signature "+tt.id, func(t *testing.T) {
			sig, ok := sigs[tt.id]
			if !ok {
				t.Fatalf("signature %s not decoded", tt.id)
			}
			if sig.Specific != tt.specific {
				t.Errorf("Specific = %v, want %v", sig.Specific, tt.specific)
			}
			if len(sig.Sequences) != 1 {
				t.Fatalf("got %d sequences, want 1", len(sig.Sequences))
			}
			got := sig.Sequences[0]
			if got.Anchor != tt.want.Anchor {
				t.Errorf("Anchor = %v, want %v", got.Anchor, tt.want.Anchor)
			}
			if got.Offset != tt.want.Offset {
				t.Errorf("Offset = %+v, want %+v", got.Offset, tt.want.Offset)
			}
			if got.String() != tt.want.String() {
				t.Errorf("String() = %q, want %q", got.String(), tt.want.String())
			}
		})
	}
}

func TestLoadDROID(t *testing.T) {
	c, err := LoadDROID(strings.NewReader(testDROID), "test.xml")
	if err != nil {
		t.Fatalf("LoadDROID: %v", err)
	}
	if c.Version() != "97" {
		t.Errorf("Version() = %q, want 97", c.Version())
	}
	f, err := c.Lookup("test/1")
	if err != nil {
		t.Fatalf("Lookup(test/1): %v", err)
	}
	zip, err := c.Lookup("test/2")
	if err != nil {
		t.Fatalf("Lookup(test/2): %v", err)
	}
	if !f.HasPriorityOver(zip) {
		t.Error("test/1 should have priority over test/2")
	}
	if got := c.Tentative("ext"); len(got) != 1 || got[0].PUID != "test/5" {
		t.Errorf("Tentative(ext) = %v, want [test/5]", got)
	}
	if got := c.Tentative("zip"); len(got) != 0 {
		t.Errorf("Tentative(zip) = %v, want none", got)
	}
	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

func TestDecodeDROIDAlternativeOffsets(t *testing.T) {
	doc := `<FFSignatureFile Version="1">
  <InternalSignature ID="1">
    <ByteSequence Reference="BOFoffset">
      <SubSequence Position="1" SubSeqMinOffset="0" SubSeqMaxOffset="0">
        <Sequence>00</Sequence>
        <RightFragment Position="1" MinOffset="1" MaxOffset="2">01</RightFragment>
        <RightFragment Position="1" MinOffset="0" MaxOffset="4">02</RightFragment>
      </SubSequence>
    </ByteSequence>
  </InternalSignature>
</FFSignatureFile>`
	def, err := DecodeDROID(strings.NewReader(doc), "alt.xml")
	if err != nil {
		t.Fatalf("DecodeDROID: %v", err)
	}
	if len(def.Warnings) != 1 || def.Warnings[0].SignatureID != "1" {
		t.Errorf("Warnings = %v, want one warning for signature 1", def.Warnings)
	}
	want := bof("00{0-4}(01|02)")
	if got := def.Signatures[0].Sequences[0].String(); got != want.String() {
		t.Errorf("String() = %q, want %q", got, want.String())
	}
}

func TestDecodeDROIDErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed", `<FFSignatureFile><InternalSignature>`},
		{"empty", ``},
		{"wrong root", `<SignatureFile/>`},
		{
			name: "bad sequence",
			doc: `<FFSignatureFile><InternalSignature ID="9"><ByteSequence Reference="BOFoffset">
<SubSequence Position="1"><Sequence>0G</Sequence></SubSequence></ByteSequence></InternalSignature></FFSignatureFile>`,
		},
		{
			name: "bad offset",
			doc: `<FFSignatureFile><InternalSignature ID="9"><ByteSequence Reference="BOFoffset">
<SubSequence Position="1" SubSeqMinOffset="x"><Sequence>00</Sequence></SubSequence></ByteSequence></InternalSignature></FFSignatureFile>`,
		},
		{
			name: "no sub-sequences",
			doc:  `<FFSignatureFile><InternalSignature ID="9"><ByteSequence Reference="BOFoffset"/></InternalSignature></FFSignatureFile>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDROID(strings.NewReader(tt.doc), "bad.xml")
			if err == nil {
				t.Fatal("DecodeDROID succeeded, want error")
			}
			var perr *errors.ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error %v is not a ParseError", err)
			}
			if perr.Path != "bad.xml" {
				t.Errorf("Path = %q, want bad.xml", perr.Path)
			}
		})
	}
}

func searchSignature(t *testing.T, c *Catalog, id, data string) bool {
	t.Helper()
	sig, err := c.Signature(id)
	if err != nil {
		t.Fatalf("Signature(%s): %v", id, err)
	}
	for _, p := range sig.Sequences {
		_, ok, err := p.Search(bytesource.NewBytes("test", []byte(data)), 0)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if !ok {
			return false
		}
	}
	return true
}

// An anchored sub-sequence without SubSeqMaxOffset sits exactly at its
// minimum offset.
func TestDROIDAnchorWithoutMaxOffset(t *testing.T) {
	doc := `<FFSignatureFile Version="1">
  <InternalSignature ID="1">
    <ByteSequence Reference="BOFoffset">
      <SubSequence Position="1" SubSeqMinOffset="0"><Sequence>25504446</Sequence></SubSequence>
    </ByteSequence>
  </InternalSignature>
  <InternalSignature ID="2">
    <ByteSequence Reference="EOFoffset">
      <SubSequence Position="1" SubSeqMinOffset="1"><Sequence>2525454F46</Sequence></SubSequence>
    </ByteSequence>
  </InternalSignature>
  <FileFormat ID="1" PUID="test/1"><InternalSignatureID>1</InternalSignatureID></FileFormat>
  <FileFormat ID="2" PUID="test/2"><InternalSignatureID>2</InternalSignatureID></FileFormat>
</FFSignatureFile>`
	c, err := LoadDROID(strings.NewReader(doc), "anchor.xml")
	if err != nil {
		t.Fatalf("LoadDROID: %v", err)
	}

	tests := []struct {
		name string
		sig  string
		data string
		want bool
	}{
		{"bof at offset 0", "1", "%PDF-1.4", true},
		{"bof later in the file", "1", "garbage text then %PDF later", false},
		{"eof one byte before end", "2", "body%%EOF\n", true},
		{"eof at end", "2", "body%%EOF", false},
		{"eof earlier in the file", "2", "%%EOF trailing text", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := searchSignature(t, c, tt.sig, tt.data); got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}

	sig, _ := c.Signature("1")
	if got := sig.Sequences[0].Sequence().Offset; got != sequence.Fixed(0) {
		t.Errorf("Offset = %+v, want fixed 0", got)
	}
}

func TestDROIDIndirectOffset(t *testing.T) {
	doc := `<FFSignatureFile Version="1">
  <InternalSignature ID="1">
    <ByteSequence Reference="IndirectBOFoffset" IndirectOffsetLocation="2" IndirectOffsetLength="2" Endianness="Little-endian">
      <SubSequence Position="1" SubSeqMinOffset="0" SubSeqMaxOffset="2"><Sequence>4142</Sequence></SubSequence>
    </ByteSequence>
  </InternalSignature>
  <InternalSignature ID="2">
    <ByteSequence Reference="IndirectEOFoffset" IndirectOffsetLocation="0" IndirectOffsetLength="1">
      <SubSequence Position="1" SubSeqMinOffset="0"><Sequence>4344</Sequence></SubSequence>
    </ByteSequence>
  </InternalSignature>
  <FileFormat ID="1" PUID="test/1"><InternalSignatureID>1</InternalSignatureID></FileFormat>
  <FileFormat ID="2" PUID="test/2"><InternalSignatureID>2</InternalSignatureID></FileFormat>
</FFSignatureFile>`
	c, err := LoadDROID(strings.NewReader(doc), "indirect.xml")
	if err != nil {
		t.Fatalf("LoadDROID: %v", err)
	}
	sig, err := c.Signature("1")
	if err != nil {
		t.Fatal(err)
	}
	want := sequence.IndirectOffset{Location: 2, Length: 2, LittleEndian: true}
	if got := sig.Sequences[0].Sequence().Indirect; got == nil || *got != want {
		t.Errorf("Indirect = %+v, want %+v", got, want)
	}

	tests := []struct {
		name string
		sig  string
		data string
		want bool
	}{
		{"bof stored offset", "1", "xx\x06\x00xxAB", true},
		{"bof stored offset with slack", "1", "xx\x06\x00xxxxAB", true},
		{"bof beyond the offset window", "1", "xx\x06\x00xxxxxAB", false},
		{"bof stored offset points elsewhere", "1", "xx\x01\x00xxAB", false},
		{"eof stored offset", "2", "xCDxx\x01", true},
		{"eof stored offset points elsewhere", "2", "xCDxx\x02", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := searchSignature(t, c, tt.sig, tt.data); got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}
}

// A signature the loader cannot represent is dropped with a warning and the
// rest of the catalog still loads.
func TestDROIDDropsUnsupportedSignatures(t *testing.T) {
	doc := `<FFSignatureFile Version="1">
  <InternalSignature ID="1">
    <ByteSequence Reference="IndirectBOFoffset" IndirectOffsetLocation="0" IndirectOffsetLength="16">
      <SubSequence Position="1"><Sequence>00</Sequence></SubSequence>
    </ByteSequence>
  </InternalSignature>
  <InternalSignature ID="2">
    <ByteSequence Reference="BOFoffset">
      <SubSequence Position="1" SubSeqMinOffset="0">
        <Sequence>00</Sequence>
        <RightFragment Position="1" MinOffset="0" MaxOffset="0">0102</RightFragment>
        <RightFragment Position="1" MinOffset="0" MaxOffset="0">03{2}04</RightFragment>
      </SubSequence>
    </ByteSequence>
  </InternalSignature>
  <InternalSignature ID="3">
    <ByteSequence Reference="SomewhereOffset">
      <SubSequence Position="1"><Sequence>00</Sequence></SubSequence>
    </ByteSequence>
  </InternalSignature>
  <InternalSignature ID="4">
    <ByteSequence Reference="BOFoffset">
      <SubSequence Position="1" SubSeqMinOffset="0"><Sequence>4D5A</Sequence></SubSequence>
    </ByteSequence>
  </InternalSignature>
  <FileFormat ID="1" PUID="test/1">
    <InternalSignatureID>1</InternalSignatureID>
    <InternalSignatureID>4</InternalSignatureID>
  </FileFormat>
  <FileFormat ID="2" PUID="test/2">
    <InternalSignatureID>2</InternalSignatureID>
    <InternalSignatureID>3</InternalSignatureID>
    <Extension>two</Extension>
  </FileFormat>
</FFSignatureFile>`
	c, err := LoadDROID(strings.NewReader(doc), "partial.xml")
	if err != nil {
		t.Fatalf("LoadDROID: %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	dropped := make(map[string]bool)
	for _, w := range c.Warnings() {
		if strings.Contains(w.Message, "signature dropped") {
			dropped[w.SignatureID] = true
		}
	}
	for _, id := range []string{"1", "2", "3"} {
		if !dropped[id] {
			t.Errorf("no drop warning for signature %s in %v", id, c.Warnings())
		}
	}

	f, err := c.Lookup("test/1")
	if err != nil {
		t.Fatal(err)
	}
	if !f.HasSignatures() {
		t.Error("test/1 lost its remaining signature")
	}
	if got := c.Tentative("two"); len(got) != 1 || got[0].PUID != "test/2" {
		t.Errorf("Tentative(two) = %v, want [test/2]", got)
	}
	if !searchSignature(t, c, "4", "MZ\x90\x00") {
		t.Error("signature 4 should match")
	}
}
