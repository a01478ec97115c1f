/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router.
The client is the tool of choice if one request handler needs to call other
handlers to fulfill its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/kontrakt/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	c.defaultHeaders[key] = value
	return c
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole("admin")
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context, with the client's authorization
// added to it.
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = c.auth.ContextWithAuthorization(ctx)
	}
	return ctx
}

// Resource represents one resource collection of the api
type Resource struct {
	route      string
	client     *Client
	parameters []string
}

// Resource returns a new resource client for the given route segment
func (c Client) Resource(route string) Resource {
	return Resource{
		client: &c,
		route:  route,
	}
}

// WithParameter returns a new resource client with a URL parameter added.
func (r Resource) WithParameter(key string, value string) Resource {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Resource{
		client: r.client,
		route:  r.route,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, r.parameters...), parameter),
	}
}

// WithFilter returns a new resource client filtering on the given field.
// The value can carry an operator prefix, e.g. "gte:10".
func (r Resource) WithFilter(field string, value string) Resource {
	return r.WithParameter(field, value)
}

// WithSort returns a new resource client with a sort order added
func (r Resource) WithSort(sort string) Resource {
	return r.WithParameter("sort", sort)
}

// WithSearch returns a new resource client with a search term added
func (r Resource) WithSearch(term string) Resource {
	return r.WithParameter("search", term)
}

// WithExpand returns a new resource client expanding the given relations
func (r Resource) WithExpand(relations ...string) Resource {
	return r.WithParameter("expand", strings.Join(relations, ","))
}

// WithFields returns a new resource client projecting the given fields
func (r Resource) WithFields(fields ...string) Resource {
	return r.WithParameter("fields", strings.Join(fields, ","))
}

// WithPage returns a new resource client requesting the given page
func (r Resource) WithPage(page int, pageSize int) Resource {
	return r.WithParameter("page", strconv.Itoa(page)).
		WithParameter("pageSize", strconv.Itoa(pageSize))
}

// CollectionPath returns the created path plus optional query strings
func (r Resource) CollectionPath() string {
	path := "/" + r.route
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// ItemPath returns the created path for one item plus optional query strings
func (r Resource) ItemPath(id string) string {
	path := "/" + r.route + "/" + id
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// Create always creates a new item.
//
// The operation corresponds to a POST request.
//
// Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Resource) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// List gets one page of the collection.
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can be map[string]interface{} or a raw *[]byte.
func (r Resource) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Read reads an item.
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can also be map[string]interface{} or a raw *[]byte.
func (r Resource) Read(id string, result interface{}) (int, error) {
	return r.client.RawGet(r.ItemPath(id), result)
}

// Patch updates selected fields of an item
//
// Expects http.StatusOK as valid response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Resource) Patch(id string, body interface{}, result interface{}) (int, error) {
	return r.client.RawPatch(r.ItemPath(id), body, result)
}

// Delete deletes an item
//
// The operation corresponds to a DELETE request.
//
// Expects http.StatusNoContent as response, otherwise it will
// flag an error.
//
// Returns the actual http status code.
func (r Resource) Delete(id string) (int, error) {
	return r.client.RawDelete(r.ItemPath(id))
}

// do sends the request either through the mux router or over the wire.
func (c Client) do(method, path string, headers map[string]string, body []byte) (int, []byte, http.Header, error) {
	// server handlers expect a non-nil body, also for GET
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, _ := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range headers {
		r.Header.Add(key, value)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, rec.Body.Bytes(), res.Header, nil
	}

	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, resBody, res.Header, nil
}

func marshalBody(path string, body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if j, ok := body.([]byte); ok {
		return j, nil
	}
	j, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("request to %s: %w", path, err)
	}
	return j, nil
}

func unmarshalResult(resBody []byte, result interface{}) error {
	if resBody == nil || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

func statusError(path string, status, want int, resBody []byte) error {
	return fmt.Errorf("handler for %s returned wrong status code: got %v want %v. Error: %s",
		path, status, want, strings.TrimSpace(string(resBody)))
}

// RawGet gets the resource from path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// The path can be extended with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, resBody, _, err := c.do(http.MethodGet, path, nil, nil)
	if err != nil {
		return status, err
	}
	if status == http.StatusNoContent {
		return status, nil
	}
	if status != http.StatusOK {
		return status, statusError(path, status, http.StatusOK, resBody)
	}
	return status, unmarshalResult(resBody, result)
}

// RawPost posts a resource to path. Expects http.StatusCreated as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(path, body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	status, resBody, _, err := c.do(http.MethodPost, path, nil, j)
	if err != nil {
		return status, err
	}
	if status != http.StatusCreated {
		return status, statusError(path, status, http.StatusCreated, resBody)
	}
	return status, unmarshalResult(resBody, result)
}

// RawPut puts a resource to path. Expects http.StatusOK or
// http.StatusNoContent as valid responses, otherwise it will flag an
// error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(path, body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	status, resBody, _, err := c.do(http.MethodPut, path, nil, j)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return status, statusError(path, status, http.StatusOK, resBody)
	}
	return status, unmarshalResult(resBody, result)
}

// RawPatch patches a resource at path. Expects http.StatusOK as valid
// response, otherwise it will flag an error. Returns the actual http
// status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(path, body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	status, resBody, _, err := c.do(http.MethodPatch, path, nil, j)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, statusError(path, status, http.StatusOK, resBody)
	}
	return status, unmarshalResult(resBody, result)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent as
// response, otherwise it will flag an error. Returns the actual http
// status code.
func (c Client) RawDelete(path string) (int, error) {
	status, resBody, _, err := c.do(http.MethodDelete, path, nil, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusNoContent {
		return status, statusError(path, status, http.StatusNoContent, resBody)
	}
	return status, nil
}
