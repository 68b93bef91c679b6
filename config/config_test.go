// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "testing"

func TestIsZip(t *testing.T) {
	cases := []struct {
		fileName string
		want     bool
	}{
		{"ZipDeploy", true},
		{"app.zip", true},
		{"APP.ZIP", true},
		{"/opt/app/app.dll", false},
		{"", false},
	}
	for _, c := range cases {
		info := &ServiceInfo{FileName: c.fileName}
		if got := info.IsZip(); got != c.want {
			t.Errorf("IsZip(%q) = %v, want %v", c.fileName, got, c.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		info ServiceInfo
		ok   bool
	}{
		{"empty filename", ServiceInfo{Mode: Default}, false},
		{"bad mode", ServiceInfo{FileName: "a.exe", Mode: "Bogus"}, false},
		{"default ok", ServiceInfo{FileName: "a.exe", Mode: Default}, true},
		{"extract ok", ServiceInfo{FileName: ZipDeploy, Mode: Extract}, true},
	}
	for _, c := range cases {
		err := c.info.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: Validate() = %v, want nil", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: Validate() = nil, want error", c.name)
		}
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("  -port  8080   --verbose ")
	want := []string{"-port", "8080", "--verbose"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Tokenize()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
