package api

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/ocsync/internal/utils"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:resourcetype/>
    <d:getcontentlength/>
    <d:getlastmodified/>
    <d:getetag/>
  </d:prop>
</d:propfind>`

// Resource is one entry of a PROPFIND listing.
type Resource struct {
	// Path is relative to the WebDAV root, without leading or trailing slash.
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
	ETag    string
}

type multistatus struct {
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string        `xml:"DAV: href"`
	Propstats []davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Status string  `xml:"DAV: status"`
	Prop   davProp `xml:"DAV: prop"`
}

type davProp struct {
	ResourceType struct {
		Collection *struct{} `xml:"DAV: collection"`
	} `xml:"DAV: resourcetype"`
	ContentLength string `xml:"DAV: getcontentlength"`
	LastModified  string `xml:"DAV: getlastmodified"`
	ETag          string `xml:"DAV: getetag"`
}

// Propfind lists dir with Depth 1. The first entry is dir itself.
func (c *Client) Propfind(ctx context.Context, dir string) ([]Resource, error) {
	return c.propfind(ctx, dir, "1")
}

// Stat returns the properties of a single remote resource.
func (c *Client) Stat(ctx context.Context, target string) (Resource, error) {
	resources, err := c.propfind(ctx, target, "0")
	if err != nil {
		return Resource{}, err
	}
	if len(resources) == 0 {
		return Resource{}, fmt.Errorf("empty PROPFIND response for %s", target)
	}
	return resources[0], nil
}

func (c *Client) propfind(ctx context.Context, target, depth string) ([]Resource, error) {
	return ExecuteWithRetry(ctx, c, "PROPFIND "+target, func() ([]Resource, error) {
		header := http.Header{}
		header.Set("Depth", depth)
		r := c.dispatch(ctx, "PROPFIND", c.URL(target, true).String(), request{
			body:        []byte(propfindBody),
			contentType: utils.ContentTypeXML,
			header:      header,
		}, nil).Wait()
		if err := r.HTTPError(); err != nil {
			return nil, err
		}
		return c.parseMultistatus(r.Body)
	})
}

func (c *Client) parseMultistatus(body []byte) ([]Resource, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("invalid PROPFIND response: %w", err)
	}

	root := strings.TrimSuffix(c.URL("", true).Path, "/")
	resources := make([]Resource, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		href := resp.Href
		if u, err := url.Parse(href); err == nil {
			href = u.Path
		} else if unescaped, err := url.PathUnescape(href); err == nil {
			href = unescaped
		}
		rel := strings.Trim(strings.TrimPrefix(href, root), "/")

		res := Resource{Path: rel}
		for _, ps := range resp.Propstats {
			if !strings.Contains(ps.Status, " 200 ") {
				continue
			}
			res.IsDir = ps.Prop.ResourceType.Collection != nil
			if ps.Prop.ContentLength != "" {
				res.Size, _ = strconv.ParseInt(strings.TrimSpace(ps.Prop.ContentLength), 10, 64)
			}
			if ps.Prop.LastModified != "" {
				if t, err := http.ParseTime(ps.Prop.LastModified); err == nil {
					res.ModTime = t
				}
			}
			res.ETag = strings.Trim(ps.Prop.ETag, `"`)
		}
		resources = append(resources, res)
	}

	sort.SliceStable(resources, func(i, j int) bool {
		return len(resources[i].Path) < len(resources[j].Path)
	})
	return resources, nil
}

// Download returns the content of a remote file.
func (c *Client) Download(ctx context.Context, file string) ([]byte, error) {
	return ExecuteWithRetry(ctx, c, "GET "+file, func() ([]byte, error) {
		r := c.dispatch(ctx, http.MethodGet, c.URL(file, true).String(), request{}, nil).Wait()
		if err := r.HTTPError(); err != nil {
			return nil, err
		}
		return r.Body, nil
	})
}

// Upload writes data to a remote file, replacing it.
func (c *Client) Upload(ctx context.Context, file string, data []byte, modTime time.Time) error {
	_, err := ExecuteWithRetry(ctx, c, "PUT "+file, func() (struct{}, error) {
		header := http.Header{}
		if !modTime.IsZero() {
			header.Set("X-OC-Mtime", strconv.FormatInt(modTime.Unix(), 10))
		}
		r := c.dispatch(ctx, http.MethodPut, c.URL(file, true).String(), request{
			body:        data,
			contentType: utils.ContentTypeBinary,
			header:      header,
		}, nil).Wait()
		return struct{}{}, r.HTTPError()
	})
	return err
}

// Mkdir creates a remote collection. An existing collection is not an error.
func (c *Client) Mkdir(ctx context.Context, dir string) error {
	_, err := ExecuteWithRetry(ctx, c, "MKCOL "+dir, func() (struct{}, error) {
		r := c.dispatch(ctx, "MKCOL", c.URL(dir, true).String(), request{}, nil).Wait()
		if IsStatus(r.HTTPError(), http.StatusMethodNotAllowed) {
			return struct{}{}, nil
		}
		return struct{}{}, r.HTTPError()
	})
	return err
}

// Delete removes a remote file or collection. A missing resource is not an error.
func (c *Client) Delete(ctx context.Context, target string) error {
	_, err := ExecuteWithRetry(ctx, c, "DELETE "+target, func() (struct{}, error) {
		r := c.dispatch(ctx, http.MethodDelete, c.URL(target, true).String(), request{}, nil).Wait()
		if IsStatus(r.HTTPError(), http.StatusNotFound) {
			return struct{}{}, nil
		}
		return struct{}{}, r.HTTPError()
	})
	return err
}

// Move renames a remote resource, replacing the destination.
func (c *Client) Move(ctx context.Context, from, to string) error {
	_, err := ExecuteWithRetry(ctx, c, "MOVE "+from, func() (struct{}, error) {
		header := http.Header{}
		header.Set("Destination", c.URL(to, true).String())
		header.Set("Overwrite", "T")
		r := c.dispatch(ctx, "MOVE", c.URL(from, true).String(), request{header: header}, nil).Wait()
		return struct{}{}, r.HTTPError()
	})
	return err
}

// ServerTime returns the Date header of a status.php request.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	return ExecuteWithRetry(ctx, c, "HEAD status", func() (time.Time, error) {
		r := c.dispatch(ctx, http.MethodHead, c.URL(utils.StatusPath, false).String(), request{}, nil).Wait()
		if r.Err != nil {
			return time.Time{}, r.Err
		}
		date := r.Header.Get("Date")
		if date == "" {
			return time.Time{}, fmt.Errorf("server sent no Date header")
		}
		return http.ParseTime(date)
	})
}

// Join builds a slash separated remote path.
func Join(elem ...string) string {
	return strings.Trim(path.Join(elem...), "/")
}
