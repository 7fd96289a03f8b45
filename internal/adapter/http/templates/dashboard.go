package templates

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/a-h/templ"

	"github.com/bnema/montage/internal/domain"
)

type DashboardData struct {
	Items         []domain.MediaItem
	Tracks        []domain.MusicTrack
	Jobs          []*domain.JobRecord
	TotalDuration float64
	ActiveJobID   string
	Username      string
	CSRF          string
	Version       string
}

func Dashboard(d DashboardData) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &page{w: w}
		p.raw("<header><h1>montage</h1><form method=\"post\" action=\"/logout\">")
		p.raw("<input type=\"hidden\" name=\"csrf_token\"")
		p.attr("value", d.CSRF)
		p.raw("><span>")
		p.text(d.Username)
		p.raw("</span> <button type=\"submit\">Sign out</button></form></header>")

		p.raw("<section id=\"items\"><h2>Timeline <small>")
		p.text(FormatDuration(d.TotalDuration))
		p.raw("</small></h2>")
		p.render(ctx, ItemTable(d.Items))
		p.raw("<form id=\"add-item\" data-endpoint=\"/api/items\"><input name=\"path\" placeholder=\"/absolute/path/to/clip.mp4 or image\" size=\"50\" required> <button>Add item</button></form>")
		p.raw(" <button data-action=\"/api/items/shuffle\">Shuffle</button></section>")

		p.raw("<section id=\"tracks\"><h2>Music</h2>")
		p.render(ctx, TrackTable(d.Tracks))
		p.raw("<form id=\"add-track\" data-endpoint=\"/api/tracks\"><input name=\"path\" placeholder=\"/absolute/path/to/song.mp3\" size=\"50\" required> <button>Add track</button></form></section>")

		p.raw("<section id=\"render\"><h2>Render</h2>")
		p.raw("<button id=\"preview-btn\" data-action=\"/api/preview\">Preview</button> ")
		p.raw("<form id=\"export\" data-endpoint=\"/api/export\" style=\"display:inline\"><input name=\"path\" placeholder=\"/absolute/output.mp4\" size=\"40\" required> <button>Export</button></form> ")
		p.raw("<button id=\"cancel-btn\" hidden>Cancel</button>")
		p.raw("<div id=\"job\"")
		p.attr("data-active", d.ActiveJobID)
		p.raw("><progress id=\"job-progress\" max=\"100\" value=\"0\"></progress><p id=\"job-message\"></p></div>")
		p.raw("<video id=\"preview\" controls hidden width=\"640\"></video></section>")

		p.raw("<section id=\"history\"><h2>Recent jobs</h2>")
		p.render(ctx, JobTable(d.Jobs))
		p.raw("</section>")
		p.raw("<script>" + dashboardScript + "</script>")
		return p.err
	})
	return Layout("Editor", d.Version, body)
}

// ItemTable lists the timeline items in order.
func ItemTable(items []domain.MediaItem) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		if len(items) == 0 {
			p.raw("<p>No items yet.</p>")
			return p.err
		}
		p.raw("<table><thead><tr><th>#</th><th>Source</th><th>Kind</th><th>Length</th><th>Edits</th><th>Status</th><th></th></tr></thead><tbody>")
		for i := range items {
			it := &items[i]
			p.raw("<tr")
			p.attr("data-id", it.ID)
			p.raw("><td>")
			p.text(strconv.Itoa(i + 1))
			p.raw("</td><td")
			p.attr("title", it.SourcePath)
			p.raw(">")
			p.text(filepath.Base(it.SourcePath))
			p.raw("</td><td>")
			p.text(string(it.Kind))
			p.raw("</td><td>")
			p.text(FormatDuration(it.EffectiveDuration()))
			p.raw("</td><td>")
			p.text(describeEdits(it))
			p.raw("</td><td")
			p.attr("class", "status-"+string(it.Status))
			if it.ErrorMessage != "" {
				p.attr("title", it.ErrorMessage)
			}
			p.raw(">")
			p.text(string(it.Status))
			if it.Pending {
				p.raw(" *")
			}
			p.raw("</td><td>")
			p.raw("<button")
			p.attr("data-move", it.ID)
			p.attr("data-index", strconv.Itoa(i-1))
			p.raw(">↑</button><button")
			p.attr("data-move", it.ID)
			p.attr("data-index", strconv.Itoa(i+1))
			p.raw(">↓</button><button")
			p.attr("data-delete", "/api/items/"+it.ID)
			p.raw(">Remove</button></td></tr>")
		}
		p.raw("</tbody></table>")
		return p.err
	})
}

func TrackTable(tracks []domain.MusicTrack) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		if len(tracks) == 0 {
			p.raw("<p>No music.</p>")
			return p.err
		}
		p.raw("<table><thead><tr><th>Title</th><th>Artist</th><th>At</th><th>Volume</th><th></th></tr></thead><tbody>")
		for i := range tracks {
			t := &tracks[i]
			p.raw("<tr")
			p.attr("data-id", t.ID)
			p.raw("><td")
			p.attr("title", t.SourcePath)
			p.raw(">")
			p.text(t.Title)
			p.raw("</td><td>")
			p.text(t.Artist)
			p.raw("</td><td>")
			p.text(FormatDuration(t.StartInCompilation))
			p.raw("</td><td>")
			p.textf("%.0f%%", t.Volume*100)
			p.raw("</td><td><button")
			p.attr("data-delete", "/api/tracks/"+t.ID)
			p.raw(">Remove</button></td></tr>")
		}
		p.raw("</tbody></table>")
		return p.err
	})
}

func JobTable(jobs []*domain.JobRecord) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		p := &page{w: w}
		if len(jobs) == 0 {
			p.raw("<p>No jobs yet.</p>")
			return p.err
		}
		p.raw("<table><thead><tr><th>Started</th><th>Kind</th><th>Status</th><th>Result</th></tr></thead><tbody>")
		for _, j := range jobs {
			p.raw("<tr><td>")
			p.text(j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			p.raw("</td><td>")
			p.text(string(j.Kind))
			p.raw("</td><td")
			p.attr("class", "status-"+string(j.Status))
			p.raw(">")
			p.text(string(j.Status))
			p.raw("</td><td>")
			switch {
			case j.Status == domain.JobStatusDone && j.Kind == domain.JobKindPreview:
				p.raw("<a")
				p.attr("href", "/preview/"+j.ID)
				p.raw(">watch</a> ")
				p.text(FormatDuration(j.Duration))
			case j.Status == domain.JobStatusDone:
				p.text(j.OutputPath)
			default:
				p.text(j.ErrorMessage)
			}
			p.raw("</td></tr>")
		}
		p.raw("</tbody></table>")
		return p.err
	})
}

func describeEdits(it *domain.MediaItem) string {
	s := ""
	if it.Kind == domain.ItemKindVideo && (it.Start > 0 || it.End < it.Meta.Duration) {
		s += fmt.Sprintf("trim %s-%s ", FormatDuration(it.Start), FormatDuration(it.End))
	}
	if it.Rotation != 0 {
		s += fmt.Sprintf("rot %d° ", it.Rotation)
	}
	if f := it.SpeedFactor(); f != 1 {
		s += fmt.Sprintf("×%g ", f)
	}
	if n := len(it.Effects); n > 0 {
		s += fmt.Sprintf("%d fx", n)
	}
	return s
}

// FormatDuration renders seconds as m:ss.t.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	tenths := int(seconds*10 + 0.5)
	return fmt.Sprintf("%d:%02d.%d", tenths/600, (tenths/10)%60, tenths%10)
}

const dashboardScript = `
(function(){
  function csrf(){
    var m = document.cookie.match(/(?:^|; )csrf_token=([^;]*)/);
    return m ? decodeURIComponent(m[1]) : "";
  }
  function api(method, url, body){
    return fetch(url, {
      method: method,
      headers: {"Content-Type": "application/json", "X-CSRF-Token": csrf()},
      body: body === undefined ? undefined : JSON.stringify(body)
    }).then(function(r){
      return r.text().then(function(t){
        var data = t ? JSON.parse(t) : {};
        if (!r.ok) { throw new Error(data.error || r.statusText); }
        return data;
      });
    });
  }
  var msg = document.getElementById("job-message");
  var bar = document.getElementById("job-progress");
  var cancel = document.getElementById("cancel-btn");
  var video = document.getElementById("preview");
  function fail(e){ msg.textContent = e.message; msg.className = "error"; }
  function follow(id, kind){
    cancel.hidden = false;
    cancel.onclick = function(){ api("POST", "/api/jobs/" + id + "/cancel").catch(fail); };
    var es = new EventSource("/events/" + id);
    es.addEventListener("progress", function(e){
      var ev = JSON.parse(e.data);
      bar.value = ev.percent; msg.className = ""; msg.textContent = ev.message || "";
    });
    ["done", "aborted", "failed"].forEach(function(t){
      es.addEventListener(t, function(e){
        var ev = JSON.parse(e.data);
        es.close(); cancel.hidden = true; bar.value = ev.percent;
        msg.textContent = t === "done" ? "done" : (t + ": " + (ev.message || ""));
        if (t === "done" && kind === "preview") { video.src = "/preview/" + id; video.hidden = false; }
        setTimeout(function(){ location.reload(); }, t === "done" ? 1500 : 3000);
      });
    });
  }
  function start(url, body, kind){
    api("POST", url, body).then(function(r){ follow(r.job_id, kind); }).catch(fail);
  }
  document.getElementById("preview-btn").onclick = function(){ start("/api/preview", undefined, "preview"); };
  document.getElementById("export").onsubmit = function(e){
    e.preventDefault(); start("/api/export", {path: this.path.value}, "export");
  };
  ["add-item", "add-track"].forEach(function(id){
    document.getElementById(id).onsubmit = function(e){
      e.preventDefault();
      api("POST", this.dataset.endpoint, {path: this.path.value}).then(function(){ location.reload(); }).catch(fail);
    };
  });
  document.querySelectorAll("[data-action]").forEach(function(b){
    if (b.id === "preview-btn") { return; }
    b.onclick = function(){ api("POST", b.dataset.action).then(function(){ location.reload(); }).catch(fail); };
  });
  document.querySelectorAll("[data-delete]").forEach(function(b){
    b.onclick = function(){ api("DELETE", b.dataset.delete).then(function(){ location.reload(); }).catch(fail); };
  });
  document.querySelectorAll("[data-move]").forEach(function(b){
    b.onclick = function(){
      api("POST", "/api/items/" + b.dataset.move + "/move", {index: parseInt(b.dataset.index, 10)})
        .then(function(){ location.reload(); }).catch(fail);
    };
  });
  var active = document.getElementById("job").dataset.active;
  if (active) { follow(active, ""); }
})();
`
