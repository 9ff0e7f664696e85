package shopify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jo-hoe/shopglot/internal/common"
	appcfg "github.com/jo-hoe/shopglot/internal/config"
	"github.com/jo-hoe/shopglot/internal/remote"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(appcfg.CatalogSettings{
		Shop:        "example.myshopify.com",
		AccessToken: "shpat-test",
		BaseURL:     srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c.WithHTTPClient(srv.Client()), srv
}

func TestNew_RequiresShopAndToken(t *testing.T) {
	if _, err := New(appcfg.CatalogSettings{AccessToken: "x"}); err == nil {
		t.Fatal("expected error without shop")
	}
	if _, err := New(appcfg.CatalogSettings{Shop: "s.myshopify.com"}); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestListProducts(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get(common.HeaderCatalogToken); got != "shpat-test" {
			t.Errorf("missing access token header, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "250" {
			t.Errorf("default limit = %s", got)
		}
		w.Header().Set("Content-Type", common.ContentTypeJSON)
		_, _ = w.Write([]byte(`{"products":[{"id":7,"title":"Mug","handle":"mug","body_html":"<p>x</p>",
			"images":[{"id":11,"src":"https://cdn.example.com/a.jpg","variant_ids":[9]}]}]}`))
	})

	products, err := c.ListProducts(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 || products[0].ID != 7 || products[0].Handle != "mug" {
		t.Fatalf("unexpected products: %+v", products)
	}
	img := products[0].Images[0]
	if img.ID != 11 || len(img.VariantIDs) != 1 || img.VariantIDs[0] != 9 {
		t.Fatalf("unexpected image: %+v", img)
	}
}

func TestUploadImage_PrimaryPosition(t *testing.T) {
	data := []byte("fake-png")
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/products/7/images.json" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Image map[string]any `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Image["attachment"] != base64.StdEncoding.EncodeToString(data) {
			t.Error("attachment is not the base64 image")
		}
		if pos, ok := body.Image["position"].(float64); !ok || pos != 1 {
			t.Errorf("expected position 1, got %v", body.Image["position"])
		}
		w.Header().Set("Content-Type", common.ContentTypeJSON)
		_, _ = w.Write([]byte(`{"image":{"id":101,"src":"https://cdn.example.com/new.png"}}`))
	})

	img, err := c.UploadImage(context.Background(), 7, data, true)
	if err != nil {
		t.Fatal(err)
	}
	if img.ID != 101 || img.Src == "" {
		t.Fatalf("unexpected image: %+v", img)
	}
}

func TestUploadImage_NoPositionForVariantImages(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Image map[string]any `json:"image"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body.Image["position"]; ok {
			t.Error("variant image upload must not force the primary position")
		}
		_, _ = w.Write([]byte(`{"image":{"id":102,"src":"https://cdn.example.com/new2.png"}}`))
	})

	if _, err := c.UploadImage(context.Background(), 7, []byte("x"), false); err != nil {
		t.Fatal(err)
	}
}

func TestReassociateVariantAndDelete(t *testing.T) {
	var saw []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		saw = append(saw, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			var body struct {
				Variant map[string]any `json:"variant"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Variant["image_id"].(float64) != 101 {
				t.Errorf("unexpected image_id %v", body.Variant["image_id"])
			}
		}
		_, _ = w.Write([]byte(`{}`))
	})

	if err := c.ReassociateVariant(context.Background(), 9, 101); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteImage(context.Background(), 7, 42); err != nil {
		t.Fatal(err)
	}
	want := []string{"PUT /variants/9.json", "DELETE /products/7/images/42.json"}
	if len(saw) != len(want) {
		t.Fatalf("calls = %v", saw)
	}
	for i, w := range want {
		if saw[i] != w {
			t.Fatalf("call %d = %q, want %q", i, saw[i], w)
		}
	}
}

func TestUpdateDescription(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/products/7.json" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Product map[string]any `json:"product"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Product["body_html"] != "<p>nuevo</p>" {
			t.Errorf("unexpected body_html %v", body.Product["body_html"])
		}
		_, _ = w.Write([]byte(`{}`))
	})

	if err := c.UpdateDescription(context.Background(), 7, "<p>nuevo</p>"); err != nil {
		t.Fatal(err)
	}
}

func TestAPIRejectionIsNotTransport(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":{"image":["is invalid"]}}`))
	})

	_, err := c.UploadImage(context.Background(), 7, []byte("x"), true)
	if err == nil {
		t.Fatal("expected error")
	}
	if remote.IsTransport(err) {
		t.Fatal("a well-formed rejection must not count as a transport failure")
	}
	if !strings.Contains(err.Error(), "is invalid") {
		t.Fatalf("error should carry the API message, got %q", err)
	}
}

func TestConnectionFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // refuse connections from now on

	c, err := New(appcfg.CatalogSettings{
		Shop:        "example.myshopify.com",
		AccessToken: "shpat-test",
		BaseURL:     url,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.UploadImage(context.Background(), 7, []byte("x"), true)
	if !remote.IsTransport(err) {
		t.Fatalf("expected a transport failure, got %v", err)
	}
}
