package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths: %d %d %d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsToken {
		t.Errorf("expected CLS %d, got %d", clsToken, ids[0])
	}
	if ids[3] != sepToken {
		t.Errorf("expected SEP after two words, got %d", ids[3])
	}
	for i := 0; i < 4; i++ {
		if attn[i] != 1 {
			t.Errorf("attention[%d] should be 1", i)
		}
	}
	if attn[4] != 0 || ids[4] != 0 {
		t.Error("padding should be zero")
	}
}

func TestSimpleTokenizer_TruncatesToMaxTokens(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h i j k l", 5)
	if len(ids) != 5 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	if ids[4] != sepToken || attn[4] != 1 {
		t.Errorf("last position should be SEP, got %d", ids[4])
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b\n\tc  ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty string should return no words")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == HashString("abd") {
		t.Error("different strings should usually hash differently")
	}
	if HashString("đau") != HashString("đau") {
		t.Error("hash should be deterministic")
	}
	if HashString("some long string that could overflow") < 0 {
		t.Error("hash must be non-negative")
	}
}
