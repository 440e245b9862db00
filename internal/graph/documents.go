package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/remote"
)

// Document library actions.
const (
	GetSiteID       dispatch.Action = "getSiteId"
	GetDriveID      dispatch.Action = "getDriveId"
	CreateFolder    dispatch.Action = "createFolder"
	ListFolder      dispatch.Action = "listFolder"
	UploadFile      dispatch.Action = "uploadFile"
	UpdateMetadata  dispatch.Action = "updateMetadata"
	CreateShareLink dispatch.Action = "createShareLink"
	DeleteItem      dispatch.Action = "deleteItem"
	GetDownloadURL  dispatch.Action = "getDownloadUrl"
	SearchFiles     dispatch.Action = "searchFiles"
	TestConnection  dispatch.Action = "testConnection"
)

const shareLinkLifetime = 90 * 24 * time.Hour

// DocumentCatalog returns the document library actions for siteURL. now
// stamps share-link expiry; nil means time.Now.
func DocumentCatalog(siteURL string, now func() time.Time) dispatch.Catalog {
	if now == nil {
		now = time.Now
	}
	return dispatch.Catalog{
		GetSiteID: {
			Method:  http.MethodGet,
			Timeout: dispatch.ReadTimeout,
			Build: func(dispatch.Payload) (dispatch.Call, error) {
				path, err := SitePath(siteURL)
				return dispatch.Call{Path: path}, err
			},
		},
		GetDriveID: {
			Method:  http.MethodGet,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				if err := p.Require("siteId"); err != nil {
					return dispatch.Call{}, err
				}
				return dispatch.Call{Path: dispatch.Segments("v1.0", "sites", p.String("siteId"), "drives")}, nil
			},
		},
		CreateFolder: {
			Method:  http.MethodPost,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				base, err := drivePath(p, "folderName")
				if err != nil {
					return dispatch.Call{}, err
				}
				return dispatch.JSONCall("", base+rootChildren(p.String("parentPath")), map[string]any{
					"name":                              p.String("folderName"),
					"folder":                            map[string]any{},
					"@microsoft.graph.conflictBehavior": "rename",
				})
			},
		},
		ListFolder: {
			Method:  http.MethodGet,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				base, err := drivePath(p)
				if err != nil {
					return dispatch.Call{}, err
				}
				return dispatch.Call{
					Path:     base + rootChildren(p.String("folderPath")),
					RawQuery: "$orderby=name&$top=200",
				}, nil
			},
		},
		UploadFile: {
			Method:  http.MethodPut,
			Timeout: dispatch.UploadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				base, err := drivePath(p, "filePath")
				if err != nil {
					return dispatch.Call{}, err
				}
				data, err := p.Bytes("fileContent")
				if err != nil {
					return dispatch.Call{}, err
				}
				contentType := p.String("contentType")
				if contentType == "" {
					contentType = "application/octet-stream"
				}
				return dispatch.Call{
					Path:   base + "/root:/" + dispatch.SplitPath(p.String("filePath")) + ":/content",
					Header: http.Header{"Content-Type": []string{contentType}},
					Body:   data,
				}, nil
			},
		},
		UpdateMetadata: {
			Method:  http.MethodPatch,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				base, err := itemPath(p)
				if err != nil {
					return dispatch.Call{}, err
				}
				fields, err := p.RequireObject("metadata")
				if err != nil {
					return dispatch.Call{}, err
				}
				return dispatch.JSONCall("", base+"/listItem/fields", fields)
			},
		},
		CreateShareLink: {
			Method:  http.MethodPost,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				base, err := itemPath(p)
				if err != nil {
					return dispatch.Call{}, err
				}
				return dispatch.JSONCall("", base+"/createLink", map[string]any{
					"type":               "view",
					"scope":              "anonymous",
					"expirationDateTime": now().UTC().Add(shareLinkLifetime).Format("2006-01-02T15:04:05.000Z"),
				})
			},
		},
		DeleteItem: {
			Method:  http.MethodDelete,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				base, err := itemPath(p)
				return dispatch.Call{Path: base}, err
			},
		},
		GetDownloadURL: {
			Method:  http.MethodGet,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				base, err := itemPath(p)
				return dispatch.Call{Path: base, RawQuery: "select=id,name,@microsoft.graph.downloadUrl"}, err
			},
		},
		SearchFiles: {
			Method:  http.MethodGet,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				base, err := drivePath(p, "query")
				if err != nil {
					return dispatch.Call{}, err
				}
				// OData string literals double embedded quotes.
				q := strings.ReplaceAll(p.String("query"), "'", "''")
				return dispatch.Call{
					Path:     base + "/root/search(q='" + url.PathEscape(q) + "')",
					RawQuery: "$top=50",
				}, nil
			},
		},
		TestConnection: {
			Timeout:   dispatch.ReadTimeout,
			Composite: testConnection(siteURL),
		},
	}
}

func drivePath(p dispatch.Payload, extra ...string) (string, error) {
	if err := p.Require(append([]string{"siteId", "driveId"}, extra...)...); err != nil {
		return "", err
	}
	return dispatch.Segments("v1.0", "sites", p.String("siteId"), "drives", p.String("driveId")), nil
}

func itemPath(p dispatch.Payload) (string, error) {
	base, err := drivePath(p, "itemId")
	if err != nil {
		return "", err
	}
	return base + dispatch.Segments("items", p.String("itemId")), nil
}

// rootChildren addresses the children of a folder relative to the drive root.
func rootChildren(folder string) string {
	rel := dispatch.SplitPath(folder)
	if rel == "" {
		return "/root/children"
	}
	return "/root:/" + rel + ":/children"
}

type connectionReport struct {
	TokenOK      bool   `json:"tokenOk"`
	SiteURL      string `json:"siteUrl"`
	SiteIDPath   string `json:"siteIdPath"`
	SiteStatus   int    `json:"siteStatus"`
	SiteResponse any    `json:"siteResponse"`
}

// testConnection reports token and site reachability without failing on a
// rejected site lookup, so operators see the Graph answer verbatim.
func testConnection(siteURL string) dispatch.CompositeFunc {
	return func(ctx context.Context, d *dispatch.Dispatcher, _ dispatch.Payload) (remote.Result, error) {
		path, err := SitePath(siteURL)
		if err != nil {
			return remote.Result{}, err
		}
		res, err := d.Send(ctx, dispatch.Call{Method: http.MethodGet, Path: path, Timeout: dispatch.ReadTimeout})
		if err != nil {
			return remote.Result{}, err
		}
		report := connectionReport{
			TokenOK:    true,
			SiteURL:    siteURL,
			SiteIDPath: path,
			SiteStatus: res.Status,
		}
		if json.Valid(res.Body) {
			report.SiteResponse = json.RawMessage(res.Body)
		} else {
			report.SiteResponse = string(res.Body)
		}
		body, err := json.Marshal(report)
		if err != nil {
			return remote.Result{}, err
		}
		return remote.Result{
			Status: http.StatusOK,
			Body:   body,
			Header: http.Header{"Content-Type": []string{"application/json"}},
		}, nil
	}
}
