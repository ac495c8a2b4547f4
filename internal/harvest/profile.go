// internal/harvest/profile.go
package harvest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Placeholders substituted into a profile's page template.
const (
	keywordPlaceholder    = "${keyword}"
	startIndexPlaceholder = "${startIndex}"
)

// Profile describes one flavour of the image search endpoint.
type Profile struct {
	Name     string
	Template string
	// Path is the recursive-descent key path to the image URLs in a page body.
	Path     []string
	PageSize int
}

// PageURL renders the template for keyword starting at start.
func (p Profile) PageURL(keyword string, start int) string {
	return strings.NewReplacer(
		keywordPlaceholder, keyword,
		startIndexPlaceholder, strconv.Itoa(start),
	).Replace(p.Template)
}

var profiles = map[string]Profile{
	"mobile": {
		Name:     "mobile",
		Template: "http://m.baidu.com/sf/vsearch/image/search/wisesearchresult?tn=wisejsonala&ie=utf-8&fromsf=1&word=${keyword}&pn=${startIndex}&rn=10&gsm=&searchtype=1&prefresh=undefined&from=link&type=1&tagname=%E6%8E%A8%E8%8D%90",
		Path:     []string{"linkData", "thumbnailUrl"},
		PageSize: 10,
	},
	"desktop": {
		Name:     "desktop",
		Template: "https://image.baidu.com/search/acjson?tn=resultjson_com&ipn=rj&ct=201326592&is=&fp=result&queryWord=${keyword}&cl=2&lm=-1&ie=utf-8&oe=utf-8&adpicid=&st=-1&z=&ic=&hd=&latest=&copyright=&word=${keyword}&s=&se=&tab=&width=&height=&face=0&istype=2&qc=&nc=1&fr=&expermode=&force=&cg=star&pn=${startIndex}&rn=30&gsm=&1570893297936=",
		Path:     []string{"data", "hoverURL"},
		PageSize: 30,
	},
}

// LookupProfile returns the named profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown crawl profile %q (available: %s)", name, strings.Join(ProfileNames(), ", "))
	}
	p.Path = append([]string(nil), p.Path...)
	return p, nil
}

// ProfileNames lists the built-in profiles.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
