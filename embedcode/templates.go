package embedcode

// The iframe attributes are identical across formats; only the glue
// around them differs.

const iframeTemplate = `<iframe
  id="{{.ContainerID}}"
  src="{{.Src}}"
  width="{{if .Responsive}}100%{{else}}{{.Width}}{{end}}"
  height="{{.Height}}"
  sandbox="{{.Sandbox}}"{{if .Allow}}
  allow="{{.Allow}}"{{end}}
  style="border: none;{{if .Responsive}} width: 100%;{{end}}"
  data-widget-id="{{.WidgetID}}"
  data-theme='{{.ThemeJSON}}'
  title="{{if .WidgetName}}{{.WidgetName}}{{else}}Widget{{end}}"></iframe>{{if .Responsive}}
<script>
  (function () {
    var frame = document.getElementById('{{.ContainerID}}');
    var origin = new URL(frame.src).origin;
    function postSize() {
      frame.contentWindow.postMessage({
        type: 'resize',
        timestamp: Date.now(),
        payload: { dimensions: { width: frame.clientWidth, height: frame.clientHeight } }
      }, origin);
    }
    window.addEventListener('resize', postSize);
    frame.addEventListener('load', postSize);
  })();
</script>{{end}}{{if .CustomCSS}}
<style>{{.CustomCSS}}</style>{{end}}`

const javascriptTemplate = `<script>
  (function () {
    var container = document.getElementById('{{.ContainerID}}');
    if (!container) {
      container = document.createElement('div');
      container.id = '{{.ContainerID}}';
      document.body.appendChild(container);
    }

    var frame = document.createElement('iframe');
    frame.src = '{{.Src}}';
    frame.width = {{if .Responsive}}'100%'{{else}}'{{.Width}}'{{end}};
    frame.height = '{{.Height}}';
    frame.setAttribute('sandbox', '{{.Sandbox}}');{{if .Allow}}
    frame.setAttribute('allow', '{{.Allow}}');{{end}}
    frame.style.border = 'none';
    frame.dataset.widgetId = '{{.WidgetID}}';
    container.appendChild(frame);

    var origin = new URL(frame.src).origin;
    var theme = {{.ThemeJSON}};
    frame.addEventListener('load', function () {
      frame.contentWindow.postMessage({
        type: 'theme_update',
        timestamp: Date.now(),
        payload: { theme: theme }
      }, origin);
    });{{if .Responsive}}
    function postSize() {
      frame.contentWindow.postMessage({
        type: 'resize',
        timestamp: Date.now(),
        payload: { dimensions: { width: container.clientWidth, height: frame.clientHeight } }
      }, origin);
    }
    window.addEventListener('resize', postSize);
    frame.addEventListener('load', postSize);{{end}}{{if .CustomCSS}}

    var style = document.createElement('style');
    style.textContent = {{printf "%q" .CustomCSS}};
    document.head.appendChild(style);{{end}}
  })();
</script>`

const reactTemplate = `import React, { useEffect, useRef } from 'react';

export default function LumeoWidget() {
  const frameRef = useRef(null);
  const origin = new URL('{{.Src}}').origin;

  useEffect(() => {
    const frame = frameRef.current;
    const theme = {{.ThemeJSON}};
    const onLoad = () => {
      frame.contentWindow.postMessage(
        { type: 'theme_update', timestamp: Date.now(), payload: { theme } },
        origin
      );
    };
    frame.addEventListener('load', onLoad);{{if .Responsive}}
    const postSize = () => {
      frame.contentWindow.postMessage(
        {
          type: 'resize',
          timestamp: Date.now(),
          payload: { dimensions: { width: frame.clientWidth, height: frame.clientHeight } }
        },
        origin
      );
    };
    window.addEventListener('resize', postSize);
    frame.addEventListener('load', postSize);{{end}}
    return () => {
      frame.removeEventListener('load', onLoad);{{if .Responsive}}
      window.removeEventListener('resize', postSize);{{end}}
    };
  }, []);

  return (
    <iframe
      ref={frameRef}
      id="{{.ContainerID}}"
      src="{{.Src}}"
      width={{if .Responsive}}"100%"{{else}}"{{.Width}}"{{end}}
      height="{{.Height}}"
      sandbox="{{.Sandbox}}"{{if .Allow}}
      allow="{{.Allow}}"{{end}}
      style={{"{{"}} border: 'none' {{"}}"}}
      data-widget-id="{{.WidgetID}}"
      title="{{if .WidgetName}}{{.WidgetName}}{{else}}Widget{{end}}"
    />
  );
}`

const vueTemplate = `<template>
  <iframe
    ref="frame"
    id="{{.ContainerID}}"
    src="{{.Src}}"
    width="{{if .Responsive}}100%{{else}}{{.Width}}{{end}}"
    height="{{.Height}}"
    sandbox="{{.Sandbox}}"{{if .Allow}}
    allow="{{.Allow}}"{{end}}
    style="border: none"
    data-widget-id="{{.WidgetID}}"
    title="{{if .WidgetName}}{{.WidgetName}}{{else}}Widget{{end}}"
  />
</template>

<script>
export default {
  name: 'LumeoWidget',
  mounted() {
    this.origin = new URL('{{.Src}}').origin;
    const frame = this.$refs.frame;
    frame.addEventListener('load', () => {
      frame.contentWindow.postMessage(
        { type: 'theme_update', timestamp: Date.now(), payload: { theme: {{.ThemeJSON}} } },
        this.origin
      );
    });{{if .Responsive}}
    this.postSize = () => {
      frame.contentWindow.postMessage(
        {
          type: 'resize',
          timestamp: Date.now(),
          payload: { dimensions: { width: frame.clientWidth, height: frame.clientHeight } }
        },
        this.origin
      );
    };
    window.addEventListener('resize', this.postSize);{{end}}
  },{{if .Responsive}}
  beforeUnmount() {
    window.removeEventListener('resize', this.postSize);
  },{{end}}
};
</script>`

const angularTemplate = `import { Component, ElementRef, ViewChild, AfterViewInit{{if .Responsive}}, OnDestroy{{end}} } from '@angular/core';

@Component({
  selector: 'lumeo-widget',
  template: ` + "`" + `
    <iframe
      #frame
      id="{{.ContainerID}}"
      src="{{.Src}}"
      width="{{if .Responsive}}100%{{else}}{{.Width}}{{end}}"
      height="{{.Height}}"
      sandbox="{{.Sandbox}}"{{if .Allow}}
      allow="{{.Allow}}"{{end}}
      style="border: none"
      data-widget-id="{{.WidgetID}}"
      title="{{if .WidgetName}}{{.WidgetName}}{{else}}Widget{{end}}"
    ></iframe>
  ` + "`" + `,
})
export class LumeoWidgetComponent implements AfterViewInit{{if .Responsive}}, OnDestroy{{end}} {
  @ViewChild('frame') frame!: ElementRef<HTMLIFrameElement>;
  private origin = new URL('{{.Src}}').origin;{{if .Responsive}}
  private postSize = () => {
    const el = this.frame.nativeElement;
    el.contentWindow?.postMessage(
      {
        type: 'resize',
        timestamp: Date.now(),
        payload: { dimensions: { width: el.clientWidth, height: el.clientHeight } }
      },
      this.origin
    );
  };{{end}}

  ngAfterViewInit(): void {
    const el = this.frame.nativeElement;
    el.addEventListener('load', () => {
      el.contentWindow?.postMessage(
        { type: 'theme_update', timestamp: Date.now(), payload: { theme: {{.ThemeJSON}} } },
        this.origin
      );
    });{{if .Responsive}}
    window.addEventListener('resize', this.postSize);{{end}}
  }{{if .Responsive}}

  ngOnDestroy(): void {
    window.removeEventListener('resize', this.postSize);
  }{{end}}
}`
