package store

import "testing"

func TestExtractLinks(t *testing.T) {
	text := `check these out:
ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@example.com:8388#A and also
vmess://eyJhZGQiOiJ4In0= trailing words
vless://9d0cb9b2-5a61-4d3b-9a29-5a2a4f1d71d1@host:443?type=ws#B

trojan://ignored@host:443
ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@example.com:8388#A`

	links := ExtractLinks(text)
	if len(links) != 3 {
		t.Fatalf("links = %v", links)
	}
	if links[0][:5] != "ss://" || links[1][:8] != "vmess://" || links[2][:8] != "vless://" {
		t.Errorf("links = %v", links)
	}
}

func TestExtractLinksEmpty(t *testing.T) {
	if links := ExtractLinks("no links here\n\njust prose"); len(links) != 0 {
		t.Errorf("links = %v", links)
	}
}
