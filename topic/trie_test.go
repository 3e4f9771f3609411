package topic

import (
	"bytes"
	"strings"
	"testing"
)

func Test_TrieNode(t *testing.T) {
	trie := NewMemoryTrie()
	trie.Subscribe("1/2/3")
	trie.Subscribe("2/4")
	trie.Subscribe("2/+/#")
	trie.Subscribe("#")

	var buf bytes.Buffer
	trie.Print(&buf)

	cases := []struct {
		path      string
		wantMatch bool
	}{
		{"1/2/3", true},
		{"1/2/3/4", true},
		{"2/3/4", true},
		{"2/3/4/5", true},
	}
	for _, c := range cases {
		_, ok := trie.Find(c.path)
		if ok != c.wantMatch {
			t.Errorf("Find(%q) match=%v, want %v", c.path, ok, c.wantMatch)
		}
	}

	trie.Unsubscribe("#")
	if _, ok := trie.Find("5/6/7"); ok {
		t.Errorf("Find after Unsubscribe(#) still matched an unrelated topic")
	}

	// "2/+/#" is still subscribed, and "#" also matches its parent level,
	// so "2/4" keeps matching after its exact filter is removed.
	trie.Unsubscribe("2/4")
	if subs, ok := trie.Find("2/4"); !ok {
		t.Errorf("Find(2/4) after Unsubscribe(2/4) = %v, want match via 2/+/#", strings.Join(subs, "/"))
	}
}
